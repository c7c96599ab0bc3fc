package audit

import (
	"context"
	"fmt"
	"testing"
)

func appendEntry(t *testing.T, s *InMemory, actor, action, entityType, entityID string) *Entry {
	t.Helper()
	e, err := NewEntry(actor, action, entityType, entityID, nil, map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("new entry: %v", err)
	}
	if err := s.Append(context.Background(), e); err != nil {
		t.Fatalf("append: %v", err)
	}
	return e
}

func TestInMemoryListNewestFirst(t *testing.T) {
	s := NewInMemory()
	first := appendEntry(t, s, "u1", ActionCaseCreated, EntityCase, "c1")
	second := appendEntry(t, s, "u1", ActionCaseAssigned, EntityCase, "c1")

	entries, err := s.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != second.ID || entries[1].ID != first.ID {
		t.Fatal("entries not ordered newest first")
	}
}

func TestInMemoryListFilters(t *testing.T) {
	s := NewInMemory()
	appendEntry(t, s, "u1", ActionCaseCreated, EntityCase, "c1")
	appendEntry(t, s, "u2", ActionCaseAssigned, EntityCase, "c1")
	appendEntry(t, s, "u2", ActionCaseAssigned, EntityCase, "c2")
	appendEntry(t, s, "u2", ActionCaseReassigned, EntityAssignment, "a1")

	tests := []struct {
		name string
		f    Filter
		want int
	}{
		{"by actor", Filter{ActorID: "u2"}, 3},
		{"by action", Filter{Action: ActionCaseAssigned}, 2},
		{"by entity type", Filter{EntityType: EntityAssignment}, 1},
		{"by entity id", Filter{EntityID: "c1"}, 2},
		{"combined", Filter{ActorID: "u2", EntityID: "c1"}, 1},
		{"no match", Filter{ActorID: "ghost"}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			entries, err := s.List(context.Background(), tc.f)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(entries) != tc.want {
				t.Fatalf("got %d entries, want %d", len(entries), tc.want)
			}
		})
	}
}

func TestInMemoryListPagination(t *testing.T) {
	s := NewInMemory()
	for i := 0; i < 5; i++ {
		appendEntry(t, s, "u1", ActionCaseUpdated, EntityCase, fmt.Sprintf("c%d", i))
	}

	page, err := s.List(context.Background(), Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(page))
	}
	// Newest first with offset 2 lands on c2 then c1.
	if page[0].EntityID != "c2" || page[1].EntityID != "c1" {
		t.Fatalf("unexpected page: %s, %s", page[0].EntityID, page[1].EntityID)
	}
}

func TestNewEntryMarshalsSnapshots(t *testing.T) {
	before := map[string]string{"status": "pending"}
	after := map[string]string{"status": "assigned"}
	e, err := NewEntry("u1", ActionCaseAssigned, EntityCase, "c1", before, after)
	if err != nil {
		t.Fatalf("new entry: %v", err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("entry identity not populated: %+v", e)
	}
	if string(e.OldValue) != `{"status":"pending"}` {
		t.Fatalf("unexpected old snapshot: %s", e.OldValue)
	}
	if string(e.NewValue) != `{"status":"assigned"}` {
		t.Fatalf("unexpected new snapshot: %s", e.NewValue)
	}
}
