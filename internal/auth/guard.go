package auth

import "distress.org/internal/obs"

// OwnedRecord carries the ownership fields of a record-scoped target. Both
// fields may be empty.
type OwnedRecord struct {
	CreatedBy  string
	AssignedTo string
}

// Decision is the outcome of a guard check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow and Deny reasons, surfaced in audit lines.
const (
	reasonAdmin     = "admin"
	reasonDirect    = "direct_grant"
	reasonInherited = "inherited_grant"
	reasonOwnership = "ownership"
	reasonNoGrant   = "no_grant"
)

// Guard evaluates permission checks against an immutable table. It performs
// no I/O and is safe for concurrent use on every request.
type Guard struct {
	table *Table
}

// NewGuard wraps a permission table.
func NewGuard(table *Table) *Guard {
	return &Guard{table: table}
}

// Check decides whether the identity may perform action on resource. The
// record, when supplied, enables the ownership override for actions marked
// ownership-eligible in the table.
func (g *Guard) Check(id Identity, resource, action string, record *OwnedRecord) Decision {
	d := g.decide(id, resource, action, record)
	obs.ObserveAuthzDecision(resource, action, d.Allowed)
	return d
}

func (g *Guard) decide(id Identity, resource, action string, record *OwnedRecord) Decision {
	if id.Role == RoleAdmin {
		return Decision{Allowed: true, Reason: reasonAdmin}
	}
	if g.table.Allows(id.Role, resource, action) {
		return Decision{Allowed: true, Reason: reasonDirect}
	}
	if g.table.AllowsInherited(id.Role, resource, action) {
		return Decision{Allowed: true, Reason: reasonInherited}
	}
	if record != nil && g.table.OwnershipEligible(resource, action) {
		if id.SubjectID != "" && (record.CreatedBy == id.SubjectID || record.AssignedTo == id.SubjectID) {
			return Decision{Allowed: true, Reason: reasonOwnership}
		}
	}
	return Decision{Allowed: false, Reason: reasonNoGrant}
}
