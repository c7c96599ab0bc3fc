package cases

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransitionTable(t *testing.T) {
	cases := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusPending, StatusAssigned, true},
		{StatusPending, StatusInProgress, false},
		{StatusPending, StatusResolved, false},
		{StatusAssigned, StatusInProgress, true},
		{StatusAssigned, StatusPending, true},
		{StatusAssigned, StatusResolved, true},
		{StatusInProgress, StatusResolved, true},
		{StatusInProgress, StatusPending, true},
		{StatusInProgress, StatusAssigned, false},
		{StatusResolved, StatusPending, false},
		{StatusResolved, StatusAssigned, false},
		{StatusResolved, StatusInProgress, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	c := &Case{ID: "c1", Status: StatusPending}
	err := Transition(c, StatusResolved, TransitionFields{ViaAssignment: true}, time.Now())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %T", err)
	}
	if te.From != StatusPending || te.To != StatusResolved {
		t.Fatalf("unexpected transition pair: %s -> %s", te.From, te.To)
	}
	if c.Status != StatusPending {
		t.Fatalf("case mutated on rejected transition: %s", c.Status)
	}
}

func TestTransitionResolvedRequiresAssignmentPath(t *testing.T) {
	c := &Case{ID: "c1", Status: StatusAssigned, AssignedTo: "u1"}
	if err := Transition(c, StatusResolved, TransitionFields{}, time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected direct resolution to be rejected, got %v", err)
	}
	if err := Transition(c, StatusResolved, TransitionFields{ViaAssignment: true, ResolutionNotes: "done"}, time.Now()); err != nil {
		t.Fatalf("assignment-path resolution failed: %v", err)
	}
	if c.ResolvedAt == nil {
		t.Fatal("ResolvedAt not set on resolution")
	}
	if c.ResolutionNotes != "done" {
		t.Fatalf("unexpected notes: %q", c.ResolutionNotes)
	}
}

func TestTransitionAssignedRequiresHandler(t *testing.T) {
	c := &Case{ID: "c1", Status: StatusPending}
	if err := Transition(c, StatusAssigned, TransitionFields{}, time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected missing handler to be rejected, got %v", err)
	}
}

func TestTransitionFirstRespondedAtSetOnce(t *testing.T) {
	first := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	later := first.Add(2 * time.Hour)

	c := &Case{ID: "c1", Status: StatusPending}
	if err := Transition(c, StatusAssigned, TransitionFields{AssignedTo: "u1"}, first); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if c.FirstRespondedAt == nil || !c.FirstRespondedAt.Equal(first) {
		t.Fatalf("FirstRespondedAt = %v, want %v", c.FirstRespondedAt, first)
	}

	// Unassign and assign again: the first response stamp must not move.
	if err := Transition(c, StatusPending, TransitionFields{}, later); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if c.AssignedTo != "" {
		t.Fatalf("AssignedTo not cleared: %q", c.AssignedTo)
	}
	if err := Transition(c, StatusAssigned, TransitionFields{AssignedTo: "u2"}, later); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if !c.FirstRespondedAt.Equal(first) {
		t.Fatalf("FirstRespondedAt moved to %v", c.FirstRespondedAt)
	}
}

func TestTransitionResolutionWithoutNotesSucceeds(t *testing.T) {
	c := &Case{ID: "c1", Status: StatusInProgress, AssignedTo: "u1"}
	if err := Transition(c, StatusResolved, TransitionFields{ViaAssignment: true}, time.Now()); err != nil {
		t.Fatalf("resolution without notes must succeed, got %v", err)
	}
	if c.ResolutionNotes != "" {
		t.Fatalf("unexpected notes: %q", c.ResolutionNotes)
	}
}
