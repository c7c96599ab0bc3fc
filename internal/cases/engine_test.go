package cases

import (
	"context"
	"errors"
	"testing"

	"distress.org/internal/audit"
	"distress.org/internal/auth"
)

type engineFixture struct {
	engine   *Engine
	store    *InMemory
	auditLog *audit.InMemory
	admin    auth.Identity
	director auth.Identity
	clerk    auth.Identity
	cadet    auth.Identity
	cadet2   auth.Identity
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	ctx := context.Background()

	auditLog := audit.NewInMemory()
	store := NewInMemory(auditLog)
	users := auth.NewInMemoryUsers()
	directory, err := auth.NewDirectory(users)
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	engine, err := NewEngine(store, auth.NewGuard(auth.DefaultTable()), directory, auditLog)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	mk := func(name, email string, role auth.Role) auth.Identity {
		u, err := directory.CreateUser(ctx, name, email, "fixture-pass-1", role)
		if err != nil {
			t.Fatalf("create %s: %v", email, err)
		}
		return auth.Identity{SubjectID: u.ID, Role: u.Role}
	}

	return &engineFixture{
		engine:   engine,
		store:    store,
		auditLog: auditLog,
		admin:    mk("Asel", "asel@example.org", auth.RoleAdmin),
		director: mk("Bauyrzhan", "bauyrzhan@example.org", auth.RoleDirector),
		clerk:    mk("Clara", "clara@example.org", auth.RoleFrontOffice),
		cadet:    mk("Dana", "dana@example.org", auth.RoleCadet),
		cadet2:   mk("Erik", "erik@example.org", auth.RoleCadet),
	}
}

func (f *engineFixture) openCase(t *testing.T) *Case {
	t.Helper()
	out, err := f.engine.CreateCase(context.Background(), f.clerk, NewCase{Title: "fixture case"})
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	if out.AuditGap {
		t.Fatal("unexpected audit gap")
	}
	return out.Case
}

func TestEngineCreateCasePermissions(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	c := f.openCase(t)
	if c.CreatedBy != f.clerk.SubjectID {
		t.Fatalf("creator not forced from identity: %q", c.CreatedBy)
	}

	if _, err := f.engine.CreateCase(ctx, f.cadet, NewCase{Title: "nope"}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected cadet intake denial, got %v", err)
	}
	// Director inherits intake through the hierarchy.
	if _, err := f.engine.CreateCase(ctx, f.director, NewCase{Title: "escalation"}); err != nil {
		t.Fatalf("director intake: %v", err)
	}
}

func TestEngineOwnershipReads(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	c := f.openCase(t)

	// The unassigned cadet holds the blanket case read grant.
	if _, err := f.engine.GetCase(ctx, f.cadet, c.ID); err != nil {
		t.Fatalf("cadet read: %v", err)
	}

	// The clerk holds no read grant but owns the record.
	if _, err := f.engine.GetCase(ctx, f.clerk, c.ID); err != nil {
		t.Fatalf("creator read: %v", err)
	}
}

func TestEngineAssignRequiresActiveTarget(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	c := f.openCase(t)

	if _, _, err := f.engine.Assign(ctx, f.director, c.ID, "missing-user", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected unknown assignee rejection, got %v", err)
	}
	if _, _, err := f.engine.Assign(ctx, f.clerk, c.ID, f.cadet.SubjectID, ""); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected front office assign denial, got %v", err)
	}
	if _, _, err := f.engine.Assign(ctx, f.director, c.ID, f.cadet.SubjectID, "go"); err != nil {
		t.Fatalf("director assign: %v", err)
	}
}

func TestEngineReassignOnlyAssignerOrAdmin(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	c := f.openCase(t)

	a, _, err := f.engine.Assign(ctx, f.director, c.ID, f.cadet.SubjectID, "")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	// The assignee may not hand the case off on their own.
	if _, _, err := f.engine.Reassign(ctx, f.cadet, a.ID, f.cadet2.SubjectID, ""); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected assignee reassign denial, got %v", err)
	}
	if _, _, err := f.engine.Reassign(ctx, f.director, a.ID, f.cadet2.SubjectID, "shift change"); err != nil {
		t.Fatalf("assigner reassign: %v", err)
	}

	// Admin can move the replacement assignment again.
	active, err := f.engine.ActiveAssignment(ctx, f.admin, c.ID)
	if err != nil {
		t.Fatalf("active assignment: %v", err)
	}
	if _, _, err := f.engine.Reassign(ctx, f.admin, active.ID, f.cadet.SubjectID, "override"); err != nil {
		t.Fatalf("admin reassign: %v", err)
	}
}

func TestEngineCompleteActorScope(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	c := f.openCase(t)
	a, _, err := f.engine.Assign(ctx, f.director, c.ID, f.cadet.SubjectID, "")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	// A bystander cadet may not complete someone else's assignment.
	if _, _, err := f.engine.Complete(ctx, f.cadet2, a.ID, "done"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected bystander completion denial, got %v", err)
	}
	if _, resolved, err := f.engine.Complete(ctx, f.cadet, a.ID, "handled"); err != nil {
		t.Fatalf("assignee complete: %v", err)
	} else if resolved.Status != StatusResolved {
		t.Fatalf("case not resolved: %s", resolved.Status)
	}
}

func TestEngineUnassignAdminOnly(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	c := f.openCase(t)
	if _, _, err := f.engine.Assign(ctx, f.director, c.ID, f.cadet.SubjectID, ""); err != nil {
		t.Fatalf("assign: %v", err)
	}

	for _, id := range []auth.Identity{f.director, f.clerk, f.cadet} {
		if _, err := f.engine.Unassign(ctx, id, c.ID); !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("expected unassign denial for %s, got %v", id.Role, err)
		}
	}
	updated, err := f.engine.Unassign(ctx, f.admin, c.ID)
	if err != nil {
		t.Fatalf("admin unassign: %v", err)
	}
	if updated.Status != StatusPending {
		t.Fatalf("case not reverted: %s", updated.Status)
	}
}

func TestEngineDirectTransitionCannotResolve(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	c := f.openCase(t)
	if _, _, err := f.engine.Assign(ctx, f.director, c.ID, f.cadet.SubjectID, ""); err != nil {
		t.Fatalf("assign: %v", err)
	}

	// Even an admin cannot resolve by direct edit; resolution runs through
	// assignment completion.
	if _, err := f.engine.ApplyTransition(ctx, f.admin, c.ID, StatusResolved, TransitionFields{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected direct resolution rejection, got %v", err)
	}
	if _, err := f.engine.ApplyTransition(ctx, f.admin, c.ID, StatusInProgress, TransitionFields{}); err != nil {
		t.Fatalf("admin transition to in_progress: %v", err)
	}
}

func TestEngineAuditAccessAndDenialLogging(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.openCase(t)

	if _, err := f.engine.ListAuditEntries(ctx, f.cadet, audit.Filter{}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected cadet audit denial, got %v", err)
	}
	entries, err := f.engine.ListAuditEntries(ctx, f.director, audit.Filter{})
	if err != nil {
		t.Fatalf("director audit read: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected case creation in the audit trail")
	}
	for _, e := range entries {
		if e.Action == audit.ActionPermissionDenied {
			t.Fatal("denied attempts must not reach the durable audit store")
		}
	}
}

// failingAuditStore accepts nothing, standing in for a broken audit backend.
type failingAuditStore struct{}

func (failingAuditStore) Append(ctx context.Context, e *audit.Entry) error {
	return errors.New("audit backend down")
}

func (failingAuditStore) List(ctx context.Context, f audit.Filter) ([]*audit.Entry, error) {
	return nil, errors.New("audit backend down")
}

func TestEngineCreateSurvivesAuditFailure(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory(audit.NewInMemory())
	users := auth.NewInMemoryUsers()
	directory, err := auth.NewDirectory(users)
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	engine, err := NewEngine(store, auth.NewGuard(auth.DefaultTable()), directory, failingAuditStore{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	clerkUser, err := directory.CreateUser(ctx, "Clara", "clara@example.org", "fixture-pass-1", auth.RoleFrontOffice)
	if err != nil {
		t.Fatalf("create clerk: %v", err)
	}
	clerk := auth.Identity{SubjectID: clerkUser.ID, Role: clerkUser.Role}

	out, err := engine.CreateCase(ctx, clerk, NewCase{Title: "degraded intake"})
	if err != nil {
		t.Fatalf("create must succeed despite audit failure: %v", err)
	}
	if !out.AuditGap {
		t.Fatal("expected the audit gap to be flagged")
	}
	if out.Case == nil || out.Case.Status != StatusPending {
		t.Fatalf("case not persisted: %+v", out.Case)
	}
}
