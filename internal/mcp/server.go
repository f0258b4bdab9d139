package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/discord-voice-lab/active-speakers/internal/logging"
	"github.com/discord-voice-lab/active-speakers/internal/moderation"
	"github.com/discord-voice-lab/active-speakers/internal/panel"
	"github.com/discord-voice-lab/active-speakers/internal/speaker"
)

// Tool names.
const (
	ToolListSpeakers    = "list_speakers"
	ToolModerateSpeaker = "moderate_speaker"
)

// WebSocketPath is where the server accepts MCP sessions.
const WebSocketPath = "/mcp/ws"

// Snapshotter publishes a panel view. *panel.Panel satisfies it.
type Snapshotter interface {
	Snapshot() panel.Snapshot
}

// Moderation sends moderator mute requests and waits for the outcome.
type Moderation interface {
	MuteVoice(ctx context.Context, sessionID, agentID string, muted bool) error
	MuteText(ctx context.Context, sessionID, agentID string, muted bool) error
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Name    string
	Version string
	// Panels maps a source name to its panel.
	Panels        map[string]Snapshotter
	DefaultSource string
	// Moderation may be nil; moderate_speaker then always fails.
	Moderation Moderation
}

// ListArgs are the list_speakers arguments.
type ListArgs struct {
	Source      string `json:"source,omitempty" jsonschema:"panel source, defaults to the configured one"`
	IncludeText bool   `json:"include_text,omitempty" jsonschema:"include text-only and departed speakers"`
}

// ModerateArgs are the moderate_speaker arguments. A true flag mutes.
type ModerateArgs struct {
	Source    string `json:"source,omitempty" jsonschema:"panel source whose session is moderated"`
	SpeakerID string `json:"speaker_id" jsonschema:"speaker to moderate"`
	Voice     *bool  `json:"voice,omitempty" jsonschema:"mute (true) or unmute (false) voice"`
	Text      *bool  `json:"text,omitempty" jsonschema:"mute (true) or unmute (false) text chat"`
}

// Server exposes the speaker panels as MCP tools over websocket.
type Server struct {
	cfg      ServerConfig
	srv      *sdk.Server
	upgrader websocket.Upgrader
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Name == "" {
		cfg.Name = "active-speakers"
	}
	if cfg.Version == "" {
		cfg.Version = "v0.0.0"
	}
	s := &Server{
		cfg: cfg,
		srv: sdk.NewServer(&sdk.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	sdk.AddTool(s.srv, &sdk.Tool{
		Name:        ToolListSpeakers,
		Description: "List the speakers of a panel in display order",
	}, s.listSpeakers)
	sdk.AddTool(s.srv, &sdk.Tool{
		Name:        ToolModerateSpeaker,
		Description: "Moderator-mute or unmute a speaker's voice or text in a session",
	}, s.moderateSpeaker)
	return s
}

func (s *Server) snapshot(source string) (panel.Snapshot, error) {
	if source == "" {
		source = s.cfg.DefaultSource
	}
	p, ok := s.cfg.Panels[source]
	if !ok {
		return panel.Snapshot{}, fmt.Errorf("unknown source %q (have %v)", source, s.sources())
	}
	return p.Snapshot(), nil
}

func (s *Server) sources() []string {
	out := make([]string, 0, len(s.cfg.Panels))
	for name := range s.cfg.Panels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Server) listSpeakers(ctx context.Context, req *sdk.CallToolRequest, args ListArgs) (*sdk.CallToolResult, any, error) {
	snap, err := s.snapshot(args.Source)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	if !args.IncludeText {
		rows := make([]panel.Row, 0, len(snap.Rows))
		for _, r := range snap.Rows {
			if r.Status == speaker.StatusTextOnly.String() || r.Status == speaker.StatusNotInChannel.String() {
				continue
			}
			rows = append(rows, r)
		}
		snap.Rows = rows
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, nil, err
	}
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: string(b)}}}, nil, nil
}

func (s *Server) moderateSpeaker(ctx context.Context, req *sdk.CallToolRequest, args ModerateArgs) (*sdk.CallToolResult, any, error) {
	if speaker.IsNullID(args.SpeakerID) {
		return errorResult("speaker_id is required"), nil, nil
	}
	if args.Voice == nil && args.Text == nil {
		return errorResult("nothing to change: set voice or text"), nil, nil
	}
	if s.cfg.Moderation == nil {
		return errorResult("moderation is not configured"), nil, nil
	}
	snap, err := s.snapshot(args.Source)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	if snap.SessionID == "" {
		return errorResult(fmt.Sprintf("source %q has no session", snap.Source)), nil, nil
	}

	ctx = logging.WithFields(ctx, append(logging.SessionFields(snap.SessionID), "speaker_id", args.SpeakerID)...)
	var errs []error
	if args.Voice != nil {
		if err := s.cfg.Moderation.MuteVoice(ctx, snap.SessionID, args.SpeakerID, *args.Voice); err != nil {
			errs = append(errs, err)
		}
	}
	if args.Text != nil {
		if err := s.cfg.Moderation.MuteText(ctx, snap.SessionID, args.SpeakerID, *args.Text); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logging.WarnwCtx(ctx, "moderate_speaker failed", "error", err)
		return errorResult(moderation.Localize(moderation.EventMute, moderation.ErrorKey(err))), nil, nil
	}
	logging.InfowCtx(ctx, "moderate_speaker applied")
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: "ok"}}}, nil, nil
}

func errorResult(text string) *sdk.CallToolResult {
	return &sdk.CallToolResult{IsError: true, Content: []sdk.Content{&sdk.TextContent{Text: text}}}
}

// Handler serves MCP sessions over websocket at WebSocketPath and a plain
// health check at /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc(WebSocketPath, s.serveWebSocket)
	return mux
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("mcp websocket upgrade failed", "error", err)
		return
	}
	go func() {
		session, err := s.srv.Connect(context.Background(), newWebSocketTransport(conn), nil)
		if err != nil {
			logging.Warnw("mcp server connect failed", "error", err)
			_ = conn.Close()
			return
		}
		defer session.Close()
		if err := session.Wait(); err != nil {
			logging.Debugw("mcp session ended", "error", err)
			return
		}
		logging.Debugw("mcp session ended")
	}()
}

// ListenAndServe serves Handler on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	hs := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- hs.ListenAndServe() }()
	logging.Infow("mcp server listening", "addr", addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
