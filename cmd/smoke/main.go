package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"distress.org/internal/audit"
	"distress.org/internal/auth"
	"distress.org/internal/cases"
)

// Runs the full case lifecycle against the in-memory stores: intake,
// assignment, reassignment, completion, and the single-active-assignment
// conflict. Exits non-zero on the first broken expectation.
func main() {
	log.SetFlags(0)

	auditLog := audit.NewInMemory()
	store := cases.NewInMemory(auditLog)
	users := auth.NewInMemoryUsers()
	directory, err := auth.NewDirectory(users)
	if err != nil {
		log.Fatalf("directory: %v", err)
	}
	guard := auth.NewGuard(auth.DefaultTable())
	engine, err := cases.NewEngine(store, guard, directory, auditLog)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mkUser := func(name, email string, role auth.Role) auth.Identity {
		u, err := directory.CreateUser(ctx, name, email, "smoke-pass-1", role)
		if err != nil {
			log.Fatalf("create user %s: %v", email, err)
		}
		return auth.Identity{SubjectID: u.ID, Role: u.Role}
	}

	admin := mkUser("Asel", "asel@example.org", auth.RoleAdmin)
	director := mkUser("Bauyrzhan", "bauyrzhan@example.org", auth.RoleDirector)
	clerk := mkUser("Clara", "clara@example.org", auth.RoleFrontOffice)
	cadet := mkUser("Dana", "dana@example.org", auth.RoleCadet)
	cadet2 := mkUser("Erik", "erik@example.org", auth.RoleCadet)

	// Intake by the front office.
	out, err := engine.CreateCase(ctx, clerk, cases.NewCase{
		Title:       "vessel adrift near harbor",
		Description: "engine failure reported by radio",
		Priority:    cases.PriorityHigh,
	})
	if err != nil {
		log.Fatalf("create case: %v", err)
	}
	c := out.Case
	if c.Status != cases.StatusPending || c.FolioNumber == "" {
		log.Fatalf("unexpected new case state: status=%s folio=%q", c.Status, c.FolioNumber)
	}

	// A cadet must not open cases.
	if _, err := engine.CreateCase(ctx, cadet, cases.NewCase{Title: "nope"}); !errors.Is(err, cases.ErrPermissionDenied) {
		log.Fatalf("expected permission denial for cadet intake, got %v", err)
	}

	// Director places the case with a cadet.
	a1, c1, err := engine.Assign(ctx, director, c.ID, cadet.SubjectID, "take the pilot boat")
	if err != nil {
		log.Fatalf("assign: %v", err)
	}
	if c1.Status != cases.StatusAssigned || c1.FirstRespondedAt == nil {
		log.Fatalf("assignment did not mark first response: %+v", c1)
	}

	// Second concurrent placement must lose.
	if _, _, err := engine.Assign(ctx, director, c.ID, cadet2.SubjectID, ""); !errors.Is(err, cases.ErrAlreadyAssigned) {
		log.Fatalf("expected assignment conflict, got %v", err)
	}

	// Reassign to the second cadet, then complete.
	a2, _, err := engine.Reassign(ctx, director, a1.ID, cadet2.SubjectID, "first responder reassigned")
	if err != nil {
		log.Fatalf("reassign: %v", err)
	}
	_, c2, err := engine.Complete(ctx, cadet2, a2.ID, "vessel towed to port")
	if err != nil {
		log.Fatalf("complete: %v", err)
	}
	if c2.Status != cases.StatusResolved || c2.ResolvedAt == nil {
		log.Fatalf("completion did not resolve case: %+v", c2)
	}

	// Resolved is terminal.
	if _, _, err := engine.Assign(ctx, admin, c.ID, cadet.SubjectID, ""); err == nil {
		log.Fatal("expected terminal case to reject assignment")
	}

	// The trail must cover the whole lifecycle.
	entries, err := engine.ListAuditEntries(ctx, admin, audit.Filter{})
	if err != nil {
		log.Fatalf("audit list: %v", err)
	}
	want := map[string]bool{
		audit.ActionCaseCreated:    false,
		audit.ActionCaseAssigned:   false,
		audit.ActionCaseReassigned: false,
		audit.ActionCaseCompleted:  false,
	}
	for _, e := range entries {
		if _, ok := want[e.Action]; ok {
			want[e.Action] = true
		}
	}
	for action, seen := range want {
		if !seen {
			log.Fatalf("audit trail missing %s", action)
		}
	}

	fmt.Printf("smoke test passed: case=%s folio=%s audit_entries=%d\n", c.ID, c.FolioNumber, len(entries))
}
