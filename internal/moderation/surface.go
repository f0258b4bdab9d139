package moderation

import (
	"fmt"
	"sync"
)

// ErrorSurface shows a session event error to the user.
type ErrorSurface interface {
	ShowSessionEventError(event, key string)
}

// SessionErrors finds the error surface of an open session. FindSession
// returns nil once the session has closed.
type SessionErrors interface {
	FindSession(sessionID string) ErrorSurface
}

// Surfaces is a SessionErrors backed by a set of open sessions.
type Surfaces struct {
	mu       sync.RWMutex
	sessions map[string]ErrorSurface
}

func NewSurfaces() *Surfaces {
	return &Surfaces{sessions: make(map[string]ErrorSurface)}
}

// Open registers s as the surface of sessionID.
func (m *Surfaces) Open(sessionID string, s ErrorSurface) {
	m.mu.Lock()
	m.sessions[sessionID] = s
	m.mu.Unlock()
}

// Close forgets sessionID. Errors arriving afterwards are dropped.
func (m *Surfaces) Close(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

func (m *Surfaces) FindSession(sessionID string) ErrorSurface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[sessionID]; ok {
		return s
	}
	return nil
}

var messages = map[string]map[string]string{
	EventMute: {
		KeyNotModerator: "You are not a moderator of this session, so you cannot change other participants' mutes.",
		KeyGeneric:      "The mute change could not be applied. Please try again.",
	},
}

// Localize returns the user-visible text for an event error.
func Localize(event, key string) string {
	if m, ok := messages[event]; ok {
		if s, ok := m[key]; ok {
			return s
		}
	}
	return fmt.Sprintf("Session error (%s: %s).", event, key)
}

// SurfaceFunc adapts a function that displays text to an ErrorSurface.
type SurfaceFunc func(text string)

func (f SurfaceFunc) ShowSessionEventError(event, key string) { f(Localize(event, key)) }
