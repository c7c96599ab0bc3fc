package auth

import (
	"fmt"
	"sort"
)

// Resource and action identifiers used in permission grants.
const (
	ResourceCases       = "cases"
	ResourceAssignments = "assignments"
	ResourceAudit       = "audit"
	ResourceUsers       = "users"

	ActionCreate   = "create"
	ActionRead     = "read"
	ActionUpdate   = "update"
	ActionAssign   = "assign"
	ActionComplete = "complete"
	ActionUnassign = "unassign"
)

// Grant is a (resource, action) pair attached to a role.
type Grant struct {
	Resource string
	Action   string
}

// Table holds the static role permission table and the role hierarchy.
// It is built once at startup and never mutated afterwards; runtime role
// changes require a reload-and-swap, not in-place mutation.
type Table struct {
	grants   map[Role]map[Grant]struct{}
	children map[Role][]Role
	// ownerOK marks actions where ownership of the record substitutes for a
	// table grant (e.g. updating one's own case).
	ownerOK map[Grant]struct{}
}

// DefaultHierarchy is the operational chain of command. Each role inherits
// the grants of every role reachable below it.
var DefaultHierarchy = map[Role][]Role{
	RoleAdmin:       {RoleDirector},
	RoleDirector:    {RoleFrontOffice},
	RoleFrontOffice: {RoleCadet},
	RoleCadet:       nil,
}

// DefaultGrants is the direct (non-inherited) permission set per role.
// Admin carries no explicit grants: it bypasses the table entirely.
// No role holds cases:unassign, so only admins pass that check.
var DefaultGrants = map[Role][]Grant{
	RoleDirector: {
		{ResourceCases, ActionAssign},
		{ResourceAssignments, ActionCreate},
		{ResourceAudit, ActionRead},
		{ResourceUsers, ActionRead},
	},
	RoleFrontOffice: {
		{ResourceCases, ActionCreate},
		{ResourceCases, ActionUpdate},
	},
	RoleCadet: {
		{ResourceCases, ActionRead},
		{ResourceAssignments, ActionRead},
		{ResourceAssignments, ActionComplete},
	},
}

// DefaultOwnershipActions lists grants that may also be satisfied by owning
// the target record (creator or current assignee).
var DefaultOwnershipActions = []Grant{
	{ResourceCases, ActionRead},
	{ResourceCases, ActionUpdate},
	{ResourceAssignments, ActionRead},
	{ResourceAssignments, ActionComplete},
}

// NewTable builds a permission table, validating that the hierarchy graph is
// acyclic.
func NewTable(grants map[Role][]Grant, hierarchy map[Role][]Role, ownershipActions []Grant) (*Table, error) {
	t := &Table{
		grants:   make(map[Role]map[Grant]struct{}, len(grants)),
		children: make(map[Role][]Role, len(hierarchy)),
		ownerOK:  make(map[Grant]struct{}, len(ownershipActions)),
	}
	for role, list := range grants {
		set := make(map[Grant]struct{}, len(list))
		for _, g := range list {
			set[g] = struct{}{}
		}
		t.grants[role] = set
	}
	for role, subs := range hierarchy {
		t.children[role] = append([]Role(nil), subs...)
	}
	for _, g := range ownershipActions {
		t.ownerOK[g] = struct{}{}
	}
	if err := t.checkAcyclic(); err != nil {
		return nil, err
	}
	return t, nil
}

// DefaultTable builds the built-in table. Panics on misconfiguration since
// the defaults are compile-time constants.
func DefaultTable() *Table {
	t, err := NewTable(DefaultGrants, DefaultHierarchy, DefaultOwnershipActions)
	if err != nil {
		panic(err)
	}
	return t
}

// Allows reports whether the role holds a direct grant for (resource, action).
func (t *Table) Allows(role Role, resource, action string) bool {
	set, ok := t.grants[role]
	if !ok {
		return false
	}
	_, ok = set[Grant{Resource: resource, Action: action}]
	return ok
}

// AllowsInherited reports whether the role or any role reachable below it in
// the hierarchy holds the grant.
func (t *Table) AllowsInherited(role Role, resource, action string) bool {
	if t.Allows(role, resource, action) {
		return true
	}
	for _, sub := range t.Below(role) {
		if t.Allows(sub, resource, action) {
			return true
		}
	}
	return false
}

// Below returns every role reachable downward from the given role, in a
// stable order.
func (t *Table) Below(role Role) []Role {
	seen := map[Role]struct{}{}
	var walk func(Role)
	walk = func(r Role) {
		for _, sub := range t.children[r] {
			if _, ok := seen[sub]; ok {
				continue
			}
			seen[sub] = struct{}{}
			walk(sub)
		}
	}
	walk(role)
	out := make([]Role, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// OwnershipEligible reports whether owning the record can satisfy the grant.
func (t *Table) OwnershipEligible(resource, action string) bool {
	_, ok := t.ownerOK[Grant{Resource: resource, Action: action}]
	return ok
}

func (t *Table) checkAcyclic() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := map[Role]int{}
	var visit func(Role) error
	visit = func(r Role) error {
		switch color[r] {
		case grey:
			return fmt.Errorf("%w: role hierarchy cycle through %q", ErrInvalidInput, r)
		case black:
			return nil
		}
		color[r] = grey
		for _, sub := range t.children[r] {
			if err := visit(sub); err != nil {
				return err
			}
		}
		color[r] = black
		return nil
	}
	for r := range t.children {
		if err := visit(r); err != nil {
			return err
		}
	}
	return nil
}
