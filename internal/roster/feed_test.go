package roster

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discord-voice-lab/active-speakers/internal/speaker"
)

func TestDecodeEnvelopes(t *testing.T) {
	m, err := Decode([]byte(`{"type":"roster","session_id":"s1","body":{"agents":["a","b"]}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeRoster, m.Type)
	assert.Equal(t, "s1", m.SessionID)
	assert.Equal(t, []string{"a", "b"}, m.Roster.Agents)

	m, err = Decode([]byte(`{"type":"update","session_id":"s1","body":{"updates":{"a":"LEAVE"}}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "LEAVE"}, m.Update.Updates)

	m, err = Decode([]byte(`{"type":"moderation_mode","session_id":"s1","body":{"moderated_mode":{"voice":true}}}`))
	require.NoError(t, err)
	require.NotNil(t, m.ModeratedVoice)
	assert.True(t, *m.ModeratedVoice)

	m, err = Decode([]byte(`{"type":"roster","session_id":"s1"}`))
	require.NoError(t, err)
	assert.Empty(t, m.Roster.Agents)

	_, err = Decode([]byte(`{"type":"invite"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

type staticChannel string

func (c staticChannel) ID() string        { return string(c) }
func (c staticChannel) SessionID() string { return string(c) }
func (c staticChannel) IsActive() bool    { return false }

func TestApplyFiltersBySession(t *testing.T) {
	reg := speaker.NewSessionRegistry(speaker.Options{}, staticChannel("s1"))

	assert.False(t, Apply(reg, Message{Type: TypeRoster, SessionID: "other", Roster: speaker.RosterPayload{Agents: []string{"x"}}}))
	assert.Nil(t, reg.Find("x"))

	assert.True(t, Apply(reg, Message{Type: TypeRoster, SessionID: "s1", Roster: speaker.RosterPayload{Agents: []string{"a1", "a2"}}}))
	assert.NotNil(t, reg.Find("a1"))
	assert.NotNil(t, reg.Find("a2"))

	assert.False(t, Apply(reg, Message{Type: TypeModerationMode, SessionID: "s1"}))
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// serve answers each connection with handler and counts connections.
func serve(t *testing.T, handler func(n int64, conn *websocket.Conn)) (*httptest.Server, *int64) {
	t.Helper()
	var conns int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handler(atomic.AddInt64(&conns, 1), conn)
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func TestFeedReconnectsAfterDisconnect(t *testing.T) {
	srv, conns := serve(t, func(n int64, conn *websocket.Conn) {
		msg := `{"type":"update","session_id":"s1","body":{"updates":{"a":"ENTER"}}}`
		if n > 1 {
			msg = `{"type":"update","session_id":"s1","body":{"updates":{"a":"LEAVE"}}}`
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		if n > 1 {
			// hold the second connection open until the client goes away
			_, _, _ = conn.ReadMessage()
			return
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	})

	feed := New(Config{URL: srv.URL, MinBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	first, err := feed.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ENTER", first.Update.Updates["a"])
	second, err := feed.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "LEAVE", second.Update.Updates["a"])
	assert.GreaterOrEqual(t, atomic.LoadInt64(conns), int64(2))
	assert.GreaterOrEqual(t, feed.Dials(), int64(2))

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	_, err = feed.Next(context.Background())
	assert.True(t, errors.Is(err, ErrFeedClosed))
}

func TestFeedSendsAuthAndRunsOnce(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"roster","session_id":"s","body":{"agents":["a"]}}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	feed := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), AuthToken: "tok"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	m, err := feed.Next(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, m.Roster.Agents)
	assert.Equal(t, "Bearer tok", auth.Load())

	assert.True(t, errors.Is(feed.Run(ctx), ErrFeedClosed))
	cancel()
	<-done

	msgs, err := feed.Drain()
	assert.Empty(t, msgs)
	assert.True(t, errors.Is(err, ErrFeedClosed))
}

func TestFeedWithoutURL(t *testing.T) {
	err := New(Config{}).Run(context.Background())
	assert.True(t, errors.Is(err, ErrFeedClosed))
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "ws://h/x", wsURL("http://h/x"))
	assert.Equal(t, "wss://h/x", wsURL("https://h/x"))
	assert.Equal(t, "ws://h", wsURL("ws://h"))
}
