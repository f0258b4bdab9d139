package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/discord-voice-lab/active-speakers/internal/logging"
	"github.com/discord-voice-lab/active-speakers/internal/speaker"
)

// Message types carried in the envelope.
const (
	TypeRoster         = "roster"
	TypeUpdate         = "update"
	TypeModerationMode = "moderation_mode"
)

// ErrFeedClosed is returned once a feed has stopped delivering messages.
var ErrFeedClosed = errors.New("roster feed closed")

type envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Body      json.RawMessage `json:"body"`
}

type moderationBody struct {
	ModeratedMode struct {
		Voice *bool `json:"voice,omitempty"`
	} `json:"moderated_mode"`
}

// Message is one decoded session message. Only the field matching Type is set.
type Message struct {
	Type      string
	SessionID string
	Roster    speaker.RosterPayload
	Update    speaker.UpdatePayload
	// ModeratedVoice is set for moderation_mode messages that carry a voice flag.
	ModeratedVoice *bool
}

// Decode parses one envelope.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("parse envelope: %w", err)
	}
	m := Message{Type: env.Type, SessionID: env.SessionID}
	body := []byte(env.Body)
	if len(body) == 0 || string(body) == "null" {
		body = []byte("{}")
	}
	switch env.Type {
	case TypeRoster:
		p, err := speaker.ParseRoster(body)
		if err != nil {
			return Message{}, err
		}
		m.Roster = p
	case TypeUpdate:
		p, err := speaker.ParseUpdate(body)
		if err != nil {
			return Message{}, err
		}
		m.Update = p
	case TypeModerationMode:
		var b moderationBody
		if err := json.Unmarshal(body, &b); err != nil {
			return Message{}, fmt.Errorf("parse moderation mode: %w", err)
		}
		m.ModeratedVoice = b.ModeratedMode.Voice
	default:
		return Message{}, fmt.Errorf("unknown message type %q", env.Type)
	}
	return m, nil
}

// Config configures a Feed.
type Config struct {
	URL       string
	AuthToken string
	// MinBackoff and MaxBackoff bound the reconnect delay.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Dialer     *websocket.Dialer
	// Buffer is the capacity of the message channel.
	Buffer int
}

// Feed reads session messages from a websocket and hands them to the frame
// loop through Messages.
type Feed struct {
	cfg     Config
	msgs    chan Message
	started atomic.Bool
	dials   atomic.Int64
}

func New(cfg Config) *Feed {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	return &Feed{cfg: cfg, msgs: make(chan Message, cfg.Buffer)}
}

// Messages is closed when Run returns.
func (f *Feed) Messages() <-chan Message { return f.msgs }

// Next blocks for the next message.
func (f *Feed) Next(ctx context.Context) (Message, error) {
	select {
	case m, ok := <-f.msgs:
		if !ok {
			return Message{}, ErrFeedClosed
		}
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Drain returns the messages already queued without blocking.
func (f *Feed) Drain() ([]Message, error) {
	var out []Message
	for {
		select {
		case m, ok := <-f.msgs:
			if !ok {
				return out, ErrFeedClosed
			}
			out = append(out, m)
		default:
			return out, nil
		}
	}
}

// Run connects and reads until ctx ends, reconnecting with exponential
// backoff after every failure. A feed runs once; a second call returns
// ErrFeedClosed.
func (f *Feed) Run(ctx context.Context) error {
	if !f.started.CompareAndSwap(false, true) {
		return ErrFeedClosed
	}
	defer close(f.msgs)

	url := wsURL(f.cfg.URL)
	if url == "" {
		return fmt.Errorf("%w: no url", ErrFeedClosed)
	}
	delay := f.cfg.MinBackoff
	for {
		delivered, err := f.session(ctx, url)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered {
			delay = f.cfg.MinBackoff
		}
		logging.Warnw("roster feed disconnected", "url", url, "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > f.cfg.MaxBackoff {
			delay = f.cfg.MaxBackoff
		}
	}
}

// Dials reports how many connections Run has attempted.
func (f *Feed) Dials() int64 { return f.dials.Load() }

func (f *Feed) session(ctx context.Context, url string) (bool, error) {
	f.dials.Add(1)
	header := http.Header{}
	if f.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+f.cfg.AuthToken)
	}
	conn, _, err := f.cfg.Dialer.DialContext(ctx, url, header)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	logging.Infow("roster feed connected", "url", url)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	delivered := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return delivered, ErrFeedClosed
			}
			return delivered, err
		}
		m, err := Decode(data)
		if err != nil {
			logging.Warnw("dropping roster message", "error", err)
			continue
		}
		select {
		case f.msgs <- m:
			delivered = true
		case <-ctx.Done():
			return delivered, ctx.Err()
		}
	}
}

func wsURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	}
	return raw
}

// Apply feeds a roster or update message to reg when it belongs to the
// registry's session. It reports whether the message was applied.
func Apply(reg *speaker.Registry, m Message) bool {
	if m.SessionID != "" && m.SessionID != reg.SessionID() {
		return false
	}
	switch m.Type {
	case TypeRoster:
		reg.SetSpeakers(m.Roster)
	case TypeUpdate:
		reg.ApplyUpdate(m.Update)
	default:
		return false
	}
	return true
}
