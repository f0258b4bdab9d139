package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/discord-voice-lab/active-speakers/internal/logging"
	"github.com/discord-voice-lab/active-speakers/internal/panel"
)

// ClientWrapper connects to a running tracker over websocket and calls its
// tools.
type ClientWrapper struct {
	client          *sdk.Client
	session         *sdk.ClientSession
	keepaliveCancel context.CancelFunc
	mu              sync.Mutex
}

// NewClientWrapper creates a new wrapper with the given name/version.
func NewClientWrapper(name, version string) *ClientWrapper {
	impl := &sdk.Implementation{Name: name, Version: version}
	return &ClientWrapper{client: sdk.NewClient(impl, nil)}
}

// ConnectWebSocket dials the server endpoint and opens a session. http and
// https URLs are rewritten to ws and wss.
func (w *ClientWrapper) ConnectWebSocket(ctx context.Context, rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	if err := w.connect(ctx, newWebSocketTransport(conn)); err != nil {
		_ = conn.Close()
		return err
	}
	logging.Debugw("mcp client connected", "url", u.String())
	return nil
}

func (w *ClientWrapper) connect(ctx context.Context, transport sdk.Transport) error {
	sess, err := w.client.Connect(ctx, transport, nil)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.session = sess
	if prev := w.keepaliveCancel; prev != nil {
		prev()
	}
	kaCtx, cancel := context.WithCancel(context.Background())
	w.keepaliveCancel = cancel
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-kaCtx.Done():
				return
			case <-ticker.C:
				_ = sess.Ping(kaCtx, nil)
			}
		}
	}()
	return nil
}

func (w *ClientWrapper) call(ctx context.Context, name string, args any) (string, error) {
	w.mu.Lock()
	sess := w.session
	w.mu.Unlock()
	if sess == nil {
		return "", errors.New("mcp client not connected")
	}
	res, err := sess.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", err
	}
	var parts []string
	for _, c := range res.Content {
		if t, ok := c.(*sdk.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if res.IsError {
		return "", fmt.Errorf("%s: %s", name, text)
	}
	return text, nil
}

// ListSpeakers fetches the published view of source ("" for the default).
func (w *ClientWrapper) ListSpeakers(ctx context.Context, source string, includeText bool) (panel.Snapshot, error) {
	text, err := w.call(ctx, ToolListSpeakers, ListArgs{Source: source, IncludeText: includeText})
	if err != nil {
		return panel.Snapshot{}, err
	}
	var snap panel.Snapshot
	if err := json.Unmarshal([]byte(text), &snap); err != nil {
		return panel.Snapshot{}, fmt.Errorf("decode %s result: %w", ToolListSpeakers, err)
	}
	return snap, nil
}

// ModerateSpeaker mutes or unmutes a speaker's voice and/or text. Nil flags
// are left alone.
func (w *ClientWrapper) ModerateSpeaker(ctx context.Context, source, speakerID string, voice, text *bool) error {
	_, err := w.call(ctx, ToolModerateSpeaker, ModerateArgs{Source: source, SpeakerID: speakerID, Voice: voice, Text: text})
	return err
}

func (w *ClientWrapper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	if w.keepaliveCancel != nil {
		w.keepaliveCancel()
		w.keepaliveCancel = nil
	}
	if w.session != nil {
		if err := w.session.Close(); err != nil {
			errs = append(errs, err)
		}
		w.session = nil
	}
	return errors.Join(errs...)
}
