package obs_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"distress.org/internal/audit"
	"distress.org/internal/auth"
	"distress.org/internal/cases"
	"distress.org/internal/obs"
)

func decisionCount(t *testing.T, resource, action, outcome string) float64 {
	t.Helper()
	c, err := obs.AuthzDecisions.GetMetricWithLabelValues(resource, action, outcome)
	if err != nil {
		t.Fatalf("counter lookup: %v", err)
	}
	return testutil.ToFloat64(c)
}

// Assignment actor checks live in the engine rather than the grant table, but
// their outcomes must land in the same decision counter the guard feeds.
func TestAssignmentActorChecksFeedDecisionCounter(t *testing.T) {
	ctx := context.Background()

	auditLog := audit.NewInMemory()
	store := cases.NewInMemory(auditLog)
	directory, err := auth.NewDirectory(auth.NewInMemoryUsers())
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	engine, err := cases.NewEngine(store, auth.NewGuard(auth.DefaultTable()), directory, auditLog)
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
	clerk := mk("Clara", "clara@example.org", auth.RoleFrontOffice)
	director := mk("Bauyrzhan", "bauyrzhan@example.org", auth.RoleDirector)
	cadet := mk("Dana", "dana@example.org", auth.RoleCadet)
	bystander := mk("Erik", "erik@example.org", auth.RoleCadet)

	out, err := engine.CreateCase(ctx, clerk, cases.NewCase{Title: "vessel adrift"})
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	a, _, err := engine.Assign(ctx, director, out.Case.ID, cadet.SubjectID, "")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	denies := decisionCount(t, auth.ResourceAssignments, auth.ActionComplete, "deny")
	if _, _, err := engine.Complete(ctx, bystander, a.ID, "done"); !errors.Is(err, cases.ErrPermissionDenied) {
		t.Fatalf("expected bystander completion denial, got %v", err)
	}
	if got := decisionCount(t, auth.ResourceAssignments, auth.ActionComplete, "deny"); got != denies+1 {
		t.Fatalf("completion denial not counted: %v -> %v", denies, got)
	}

	denies = decisionCount(t, auth.ResourceAssignments, "reassign", "deny")
	if _, _, err := engine.Reassign(ctx, cadet, a.ID, bystander.SubjectID, ""); !errors.Is(err, cases.ErrPermissionDenied) {
		t.Fatalf("expected assignee reassign denial, got %v", err)
	}
	if got := decisionCount(t, auth.ResourceAssignments, "reassign", "deny"); got != denies+1 {
		t.Fatalf("reassign denial not counted: %v -> %v", denies, got)
	}

	allows := decisionCount(t, auth.ResourceAssignments, auth.ActionComplete, "allow")
	if _, _, err := engine.Complete(ctx, cadet, a.ID, "handled"); err != nil {
		t.Fatalf("assignee complete: %v", err)
	}
	if got := decisionCount(t, auth.ResourceAssignments, auth.ActionComplete, "allow"); got != allows+1 {
		t.Fatalf("completion allow not counted: %v -> %v", allows, got)
	}
}
