package bridge

import (
	"fmt"
	"strings"
	"sync"

	"github.com/devicelab-dev/zylix-test/pkg/core"
)

// Session is one remote automation session and the element handles it has
// issued. Handles are only meaningful within the session that issued them.
type Session struct {
	ID   string
	Host string
	Port int

	mu      sync.Mutex
	handles map[core.ElementHandle]string
	next    core.ElementHandle
}

// NewSession creates a session record for a freshly opened remote session.
func NewSession(id, host string, port int) *Session {
	return &Session{
		ID:      id,
		Host:    host,
		Port:    port,
		handles: make(map[core.ElementHandle]string),
	}
}

// Path prefixes suffix with /session/{id}.
func (s *Session) Path(suffix string) string {
	return fmt.Sprintf("/session/%s%s", s.ID, suffix)
}

// ElementPath returns /session/{id}/element/{native}{suffix} for a handle.
func (s *Session) ElementPath(h core.ElementHandle, suffix string) (string, error) {
	native, err := s.Resolve(h)
	if err != nil {
		return "", err
	}
	return s.Path("/element/" + native + suffix), nil
}

// Register stores a native element id and returns a new handle for it.
// The id is copied so it does not pin the response buffer it came from.
func (s *Session) Register(nativeID string) core.ElementHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.handles[s.next] = strings.Clone(nativeID)
	return s.next
}

// Resolve returns the native id for a handle.
func (s *Session) Resolve(h core.ElementHandle) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	native, ok := s.handles[h]
	if !ok {
		return "", core.ErrElementNotFound.WithMessage(fmt.Sprintf("unknown element handle %d", h))
	}
	return native, nil
}

// Len returns the number of registered handles.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Release drops every registered handle. Handles issued before Release never
// resolve again; the counter keeps counting so they are never reissued.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles = make(map[core.ElementHandle]string)
}
