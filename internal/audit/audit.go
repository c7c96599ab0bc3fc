// Package audit provides the append-only record of permission-gated
// mutations. Entries are never updated or deleted by the service; retention
// is a separate operational concern.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"distress.org/internal/ids"
)

// Entry records who changed what, with before/after snapshots.
type Entry struct {
	ID         string          `json:"id"`
	ActorID    string          `json:"actor_id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	OldValue   json.RawMessage `json:"old_value,omitempty"`
	NewValue   json.RawMessage `json:"new_value,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Filter narrows audit listings.
type Filter struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Limit      int
	Offset     int
}

// Store persists entries append-only.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) ([]*Entry, error)
}

// Actions recorded by the engine.
const (
	ActionCaseCreated      = "case.created"
	ActionCaseUpdated      = "case.updated"
	ActionCaseTransitioned = "case.transitioned"
	ActionCaseAssigned     = "case.assigned"
	ActionCaseReassigned   = "case.reassigned"
	ActionCaseCompleted    = "case.completed"
	ActionCaseUnassigned   = "case.unassigned"
	ActionPermissionDenied = "permission.denied"
	ActionTokenRevoked     = "token.revoked"
)

// Entity types referenced by entries.
const (
	EntityCase       = "case"
	EntityAssignment = "assignment"
	EntityToken      = "token"
)

// NewEntry builds an entry with marshaled snapshots. Either snapshot may be
// nil.
func NewEntry(actorID, action, entityType, entityID string, oldValue, newValue any) (*Entry, error) {
	e := &Entry{
		ID:         ids.New(),
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		CreatedAt:  time.Now().UTC(),
	}
	if oldValue != nil {
		raw, err := json.Marshal(oldValue)
		if err != nil {
			return nil, fmt.Errorf("marshal old value: %w", err)
		}
		e.OldValue = raw
	}
	if newValue != nil {
		raw, err := json.Marshal(newValue)
		if err != nil {
			return nil, fmt.Errorf("marshal new value: %w", err)
		}
		e.NewValue = raw
	}
	return e, nil
}
