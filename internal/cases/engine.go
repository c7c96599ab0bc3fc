package cases

import (
	"context"
	"fmt"

	"distress.org/internal/audit"
	"distress.org/internal/auth"
	"distress.org/internal/obs"
)

// Engine is the permission-gated entry point to the case and assignment
// operations. Every mutation passes through the authorization guard before
// reaching the store; denied attempts are logged but never touch the durable
// audit trail.
type Engine struct {
	store    Store
	guard    *auth.Guard
	users    *auth.Directory
	auditLog audit.Store
}

// NewEngine wires the engine dependencies.
func NewEngine(store Store, guard *auth.Guard, users *auth.Directory, auditLog audit.Store) (*Engine, error) {
	if store == nil || guard == nil || users == nil || auditLog == nil {
		return nil, fmt.Errorf("%w: store, guard, users and audit log are required", ErrInvalidInput)
	}
	return &Engine{store: store, guard: guard, users: users, auditLog: auditLog}, nil
}

// Outcome wraps a case mutation result. AuditGap is set when the mutation
// committed but its audit entry could not be recorded; the mutation stands
// and the gap is flagged for operational follow-up.
type Outcome struct {
	Case     *Case `json:"case"`
	AuditGap bool  `json:"audit_gap,omitempty"`
}

// CreateCase opens a new case in pending.
func (e *Engine) CreateCase(ctx context.Context, id auth.Identity, in NewCase) (*Outcome, error) {
	if err := e.allow(ctx, id, auth.ResourceCases, auth.ActionCreate, nil); err != nil {
		return nil, err
	}
	in.CreatedBy = id.SubjectID
	c, err := e.store.CreateCase(ctx, in)
	if err != nil {
		return nil, err
	}
	gap := e.appendAudit(ctx, id.SubjectID, audit.ActionCaseCreated, audit.EntityCase, c.ID, nil, c)
	return &Outcome{Case: c, AuditGap: gap}, nil
}

// GetCase returns a case the identity may read.
func (e *Engine) GetCase(ctx context.Context, id auth.Identity, caseID string) (*Case, error) {
	c, err := e.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	rec := &auth.OwnedRecord{CreatedBy: c.CreatedBy, AssignedTo: c.AssignedTo}
	if err := e.allow(ctx, id, auth.ResourceCases, auth.ActionRead, rec); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCases returns cases matching the filter.
func (e *Engine) ListCases(ctx context.Context, id auth.Identity, f Filter) ([]*Case, error) {
	if err := e.allow(ctx, id, auth.ResourceCases, auth.ActionRead, nil); err != nil {
		return nil, err
	}
	return e.store.ListCases(ctx, f)
}

// UpdateCase applies allow-listed field changes. Ownership of the case
// satisfies the update permission for its creator or current assignee.
func (e *Engine) UpdateCase(ctx context.Context, id auth.Identity, caseID string, upd CaseUpdate) (*Outcome, error) {
	before, err := e.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	rec := &auth.OwnedRecord{CreatedBy: before.CreatedBy, AssignedTo: before.AssignedTo}
	if err := e.allow(ctx, id, auth.ResourceCases, auth.ActionUpdate, rec); err != nil {
		return nil, err
	}
	c, err := e.store.UpdateCase(ctx, caseID, upd, id.SubjectID)
	if err != nil {
		return nil, err
	}
	gap := e.appendAudit(ctx, id.SubjectID, audit.ActionCaseUpdated, audit.EntityCase, c.ID, before, c)
	return &Outcome{Case: c, AuditGap: gap}, nil
}

// Assign opens the first active assignment for a case. The target must be an
// active user; a case that already has an active assignment yields
// ErrAlreadyAssigned (first-assignment-wins, no silent overwrite).
func (e *Engine) Assign(ctx context.Context, id auth.Identity, caseID, assignedTo, instructions string) (*Assignment, *Case, error) {
	if err := e.allow(ctx, id, auth.ResourceCases, auth.ActionAssign, nil); err != nil {
		return nil, nil, err
	}
	if _, err := e.users.ActiveUser(ctx, assignedTo); err != nil {
		return nil, nil, fmt.Errorf("%w: assignee %s", ErrNotFound, assignedTo)
	}
	return e.store.Assign(ctx, caseID, id.SubjectID, assignedTo, instructions)
}

// Reassign moves the active assignment to a new handler. Only the original
// assigner (or an admin) may reassign; the check is on the assignment, not
// the case.
func (e *Engine) Reassign(ctx context.Context, id auth.Identity, assignmentID, newAssignee, reason string) (*Assignment, *Case, error) {
	a, err := e.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, nil, err
	}
	allowed := id.Role == auth.RoleAdmin || a.AssignedBy == id.SubjectID
	if err := e.actorRule(ctx, id, auth.ResourceAssignments, "reassign", assignmentID, allowed); err != nil {
		return nil, nil, err
	}
	if _, err := e.users.ActiveUser(ctx, newAssignee); err != nil {
		return nil, nil, fmt.Errorf("%w: assignee %s", ErrNotFound, newAssignee)
	}
	return e.store.Reassign(ctx, assignmentID, newAssignee, reason, id.SubjectID)
}

// Complete closes the assignment and resolves its case. Either the assigner
// or the assignee may complete.
func (e *Engine) Complete(ctx context.Context, id auth.Identity, assignmentID, notes string) (*Assignment, *Case, error) {
	a, err := e.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, nil, err
	}
	allowed := id.Role == auth.RoleAdmin || a.AssignedBy == id.SubjectID || a.AssignedTo == id.SubjectID
	if err := e.actorRule(ctx, id, auth.ResourceAssignments, auth.ActionComplete, assignmentID, allowed); err != nil {
		return nil, nil, err
	}
	return e.store.Complete(ctx, assignmentID, notes, id.SubjectID)
}

// Unassign is admin-only: it closes the active assignment with a system note
// and reverts the case to pending.
func (e *Engine) Unassign(ctx context.Context, id auth.Identity, caseID string) (*Case, error) {
	if err := e.allow(ctx, id, auth.ResourceCases, auth.ActionUnassign, nil); err != nil {
		return nil, err
	}
	return e.store.Unassign(ctx, caseID, id.SubjectID)
}

// ApplyTransition is the direct administrative status edit, still gated by
// the state machine.
func (e *Engine) ApplyTransition(ctx context.Context, id auth.Identity, caseID string, to Status, fields TransitionFields) (*Case, error) {
	if err := e.allow(ctx, id, auth.ResourceCases, auth.ActionUpdate, nil); err != nil {
		return nil, err
	}
	// Direct edits never carry the assignment-path flag; resolution happens
	// through Complete.
	fields.ViaAssignment = false
	return e.store.ApplyTransition(ctx, caseID, to, fields, id.SubjectID)
}

// GetAssignment returns an assignment the identity may read.
func (e *Engine) GetAssignment(ctx context.Context, id auth.Identity, assignmentID string) (*Assignment, error) {
	a, err := e.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	rec := &auth.OwnedRecord{CreatedBy: a.AssignedBy, AssignedTo: a.AssignedTo}
	if err := e.allow(ctx, id, auth.ResourceAssignments, auth.ActionRead, rec); err != nil {
		return nil, err
	}
	return a, nil
}

// ActiveAssignment returns the single open assignment of a case, if any.
func (e *Engine) ActiveAssignment(ctx context.Context, id auth.Identity, caseID string) (*Assignment, error) {
	a, err := e.store.ActiveAssignment(ctx, caseID)
	if err != nil {
		return nil, err
	}
	rec := &auth.OwnedRecord{CreatedBy: a.AssignedBy, AssignedTo: a.AssignedTo}
	if err := e.allow(ctx, id, auth.ResourceAssignments, auth.ActionRead, rec); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAssignments returns the assignment history of a case.
func (e *Engine) ListAssignments(ctx context.Context, id auth.Identity, caseID string) ([]*Assignment, error) {
	if err := e.allow(ctx, id, auth.ResourceAssignments, auth.ActionRead, nil); err != nil {
		return nil, err
	}
	return e.store.ListAssignments(ctx, caseID)
}

// ListAuditEntries exposes the audit trail read-only for reporting.
func (e *Engine) ListAuditEntries(ctx context.Context, id auth.Identity, f audit.Filter) ([]*audit.Entry, error) {
	if err := e.allow(ctx, id, auth.ResourceAudit, auth.ActionRead, nil); err != nil {
		return nil, err
	}
	return e.auditLog.List(ctx, f)
}

func (e *Engine) allow(ctx context.Context, id auth.Identity, resource, action string, rec *auth.OwnedRecord) error {
	d := e.guard.Check(id, resource, action, rec)
	if d.Allowed {
		return nil
	}
	e.logDenied(ctx, id, resource, action, "")
	return ErrPermissionDenied
}

// actorRule settles an assignment actor check the grant table cannot express.
// It feeds the same decision metric as the guard so denial dashboards see
// these outcomes too.
func (e *Engine) actorRule(ctx context.Context, id auth.Identity, resource, action, entityID string, allowed bool) error {
	obs.ObserveAuthzDecision(resource, action, allowed)
	if allowed {
		return nil
	}
	e.logDenied(ctx, id, resource, action, entityID)
	return ErrPermissionDenied
}

func (e *Engine) logDenied(ctx context.Context, id auth.Identity, resource, action, entityID string) {
	fields := map[string]any{
		"actor_id": id.SubjectID,
		"role":     string(id.Role),
		"resource": resource,
		"action":   action,
	}
	if entityID != "" {
		fields["entity_id"] = entityID
	}
	_ = audit.LogEvent(ctx, audit.ActionPermissionDenied, fields)
}

// appendAudit records an entry after a committed mutation. A failure here is
// a degraded success: the mutation stands, the gap is logged and counted.
func (e *Engine) appendAudit(ctx context.Context, actorID, action, entityType, entityID string, oldValue, newValue any) bool {
	entry, err := audit.NewEntry(actorID, action, entityType, entityID, oldValue, newValue)
	if err == nil {
		err = e.auditLog.Append(ctx, entry)
	}
	if err != nil {
		obs.ObserveAuditAppendFailure()
		obs.Warn("audit append failed after committed mutation", map[string]any{
			"action":    action,
			"entity_id": entityID,
			"error":     err.Error(),
		})
		return true
	}
	return false
}
