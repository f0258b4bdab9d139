// Package moderation sends moderator requests for a chat session to the
// remote capability endpoint and reports failures to the owning session.
package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/discord-voice-lab/active-speakers/internal/logging"
)

var (
	// ErrNotModerator is returned when the endpoint answers 403.
	ErrNotModerator = errors.New("not a moderator")
	// ErrRequestFailed covers every other failure.
	ErrRequestFailed = errors.New("moderation request failed")
)

// Error keys understood by Localize.
const (
	KeyNotModerator = "not_a_moderator"
	KeyGeneric      = "generic"

	EventMute = "mute"
)

const (
	methodMuteUpdate    = "mute update"
	methodSessionUpdate = "session update"
)

type request struct {
	Method    string      `json:"method"`
	SessionID string      `json:"session-id"`
	Params    interface{} `json:"params"`
}

type muteParams struct {
	AgentID string          `json:"agent_id"`
	Mutes   map[string]bool `json:"mutes"`
}

type sessionParams struct {
	ModeratedMode map[string]bool `json:"moderated_mode"`
}

// Config holds the endpoint settings.
type Config struct {
	URL       string
	AuthToken string
	Timeout   time.Duration
	Attempts  int
	// HTTPClient defaults to a client with Timeout.
	HTTPClient *http.Client
}

// Client issues moderation requests. Dispatch methods are asynchronous and
// report failures through the SessionErrors given to New.
type Client struct {
	cfg     Config
	surface SessionErrors
	wg      sync.WaitGroup
}

// New returns a Client. surface may be nil, in which case failures are only
// logged.
func New(cfg Config, surface SessionErrors) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	return &Client{cfg: cfg, surface: surface}
}

// MuteVoice asks the endpoint to set or clear the moderator voice mute on agentID.
func (c *Client) MuteVoice(ctx context.Context, sessionID, agentID string, muted bool) error {
	return c.post(ctx, request{
		Method:    methodMuteUpdate,
		SessionID: sessionID,
		Params:    muteParams{AgentID: agentID, Mutes: map[string]bool{"voice": muted}},
	})
}

// MuteText asks the endpoint to set or clear the moderator text mute on agentID.
func (c *Client) MuteText(ctx context.Context, sessionID, agentID string, muted bool) error {
	return c.post(ctx, request{
		Method:    methodMuteUpdate,
		SessionID: sessionID,
		Params:    muteParams{AgentID: agentID, Mutes: map[string]bool{"text": muted}},
	})
}

// SetModeratedVoice switches the session's voice moderation mode.
func (c *Client) SetModeratedVoice(ctx context.Context, sessionID string, moderated bool) error {
	return c.post(ctx, request{
		Method:    methodSessionUpdate,
		SessionID: sessionID,
		Params:    sessionParams{ModeratedMode: map[string]bool{"voice": moderated}},
	})
}

// DispatchMuteVoice runs MuteVoice in the background.
func (c *Client) DispatchMuteVoice(sessionID, agentID string, muted bool) {
	c.dispatch(sessionID, true, func(ctx context.Context) error {
		return c.MuteVoice(ctx, sessionID, agentID, muted)
	})
}

// DispatchMuteText runs MuteText in the background.
func (c *Client) DispatchMuteText(sessionID, agentID string, muted bool) {
	c.dispatch(sessionID, true, func(ctx context.Context) error {
		return c.MuteText(ctx, sessionID, agentID, muted)
	})
}

// DispatchModeratedVoice runs SetModeratedVoice in the background. Failures
// are logged but not shown to the session.
func (c *Client) DispatchModeratedVoice(sessionID string, moderated bool) {
	c.dispatch(sessionID, false, func(ctx context.Context) error {
		return c.SetModeratedVoice(ctx, sessionID, moderated)
	})
}

// Wait blocks until every dispatched request has finished.
func (c *Client) Wait() { c.wg.Wait() }

func (c *Client) dispatch(sessionID string, surfaced bool, fn func(context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx := logging.WithFields(context.Background(), logging.SessionFields(sessionID)...)
		err := fn(ctx)
		if err == nil {
			return
		}
		logging.WarnwCtx(ctx, "moderation request failed", "err", err)
		if !surfaced || c.surface == nil {
			return
		}
		// the session may have closed while the request was in flight
		s := c.surface.FindSession(sessionID)
		if s == nil {
			logging.Debugw("moderation: session gone, dropping error", logging.SessionFields(sessionID)...)
			return
		}
		s.ShowSessionEventError(EventMute, ErrorKey(err))
	}()
}

func (c *Client) post(ctx context.Context, req request) error {
	if c.cfg.URL == "" {
		return fmt.Errorf("%w: no capability url configured", ErrRequestFailed)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrRequestFailed, err)
	}
	requestID := uuid.New().String()
	resp, err := postWithRetries(ctx, c.cfg.HTTPClient, c.cfg.URL, body, c.cfg.AuthToken, c.cfg.Timeout, c.cfg.Attempts, requestID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		logging.Debugw("moderation request accepted", append(logging.SessionFields(req.SessionID), "method", req.Method, "request_id", requestID)...)
		return nil
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrNotModerator, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}
}

// ErrorKey maps a request error to the key shown to the session.
func ErrorKey(err error) string {
	if errors.Is(err, ErrNotModerator) {
		return KeyNotModerator
	}
	return KeyGeneric
}
