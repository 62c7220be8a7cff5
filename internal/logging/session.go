package logging

import (
	"log/slog"
	"sync"
)

// SessionContext holds the active recording session so every log record can
// carry it. The zero value has no session.
type SessionContext struct {
	mu   sync.RWMutex
	id   string
	name string
}

// Set marks a session as active.
func (s *SessionContext) Set(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	s.name = name
}

// Clear forgets the active session.
func (s *SessionContext) Clear() {
	s.Set("", "")
}

// Active returns the active session id, empty when none.
func (s *SessionContext) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Attrs implements ContextProvider.
func (s *SessionContext) Attrs() []slog.Attr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.id == "" {
		return nil
	}
	return []slog.Attr{
		slog.String("session", s.id),
		slog.String("sessionName", s.name),
	}
}
