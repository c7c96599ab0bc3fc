package auth

import (
	"sync"
	"time"
)

// RevocationSet tracks revoked token sessions. Entries expire together with
// the token they belong to, which bounds the set by the number of tokens
// revoked within one TTL window. Expiry is checked lazily on read and swept
// opportunistically on write; no background goroutine is required.
//
// The set is in-process. Running more than one instance of the service
// requires moving it to a shared store; that is a deliberate scaling
// boundary, not an oversight.
type RevocationSet struct {
	mu      sync.RWMutex
	entries map[string]time.Time // session id -> token expiry
	now     func() time.Time
}

// NewRevocationSet creates an empty set.
func NewRevocationSet() *RevocationSet {
	return &RevocationSet{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke adds a session. The entry is dropped once expiresAt passes.
func (s *RevocationSet) Revoke(sessionID string, expiresAt time.Time) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.entries[sessionID] = expiresAt
}

// Contains reports whether the session is currently revoked.
func (s *RevocationSet) Contains(sessionID string) bool {
	if sessionID == "" {
		return false
	}
	s.mu.RLock()
	exp, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if s.now().After(exp) {
		// Entry outlived its token; drop it.
		s.mu.Lock()
		if cur, still := s.entries[sessionID]; still && s.now().After(cur) {
			delete(s.entries, sessionID)
		}
		s.mu.Unlock()
		return false
	}
	return true
}

// Len returns the number of live entries, sweeping expired ones first.
func (s *RevocationSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return len(s.entries)
}

func (s *RevocationSet) sweepLocked() {
	now := s.now()
	for sid, exp := range s.entries {
		if now.After(exp) {
			delete(s.entries, sid)
		}
	}
}
