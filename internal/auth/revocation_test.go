package auth

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRevocationSetLazyExpiry(t *testing.T) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewRevocationSet()
	s.now = func() time.Time { return current }

	s.Revoke("sid-1", current.Add(time.Hour))
	s.Revoke("sid-2", current.Add(2*time.Hour))

	if !s.Contains("sid-1") || !s.Contains("sid-2") {
		t.Fatal("fresh entries must be present")
	}
	if s.Contains("sid-unknown") {
		t.Fatal("unknown session reported revoked")
	}
	if s.Contains("") {
		t.Fatal("empty session id must never match")
	}

	current = current.Add(90 * time.Minute)
	if s.Contains("sid-1") {
		t.Fatal("entry must expire with its token")
	}
	if !s.Contains("sid-2") {
		t.Fatal("entry expired early")
	}
	if got := s.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}

func TestRevocationSetSweepOnWrite(t *testing.T) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewRevocationSet()
	s.now = func() time.Time { return current }

	for i := 0; i < 10; i++ {
		s.Revoke(fmt.Sprintf("old-%d", i), current.Add(time.Minute))
	}
	current = current.Add(time.Hour)
	s.Revoke("fresh", current.Add(time.Hour))

	if got := s.Len(); got != 1 {
		t.Fatalf("expired entries not swept on write: Len() = %d", got)
	}
}

func TestRevocationSetConcurrentAccess(t *testing.T) {
	s := NewRevocationSet()
	exp := time.Now().Add(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sid := fmt.Sprintf("sid-%d-%d", n, j)
				s.Revoke(sid, exp)
				if !s.Contains(sid) {
					t.Errorf("session %s lost after revoke", sid)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if got := s.Len(); got != 800 {
		t.Fatalf("Len() = %d, want 800", got)
	}
}
