// Package access converts a caller's identity into the metadata predicate
// restricting which vectors are visible to them.
package access

import (
	"github.com/fieldmate-ai/raggate/internal/domain/caller"
	"github.com/fieldmate-ai/raggate/internal/domain/match"
	"github.com/fieldmate-ai/raggate/internal/domain/search/filter"
)

// Unrestricted is the wildcard tag ingestion writes into every access field
// of a document with no restriction on that dimension. TAG pre-filters cannot
// express "field absent", so absence is encoded as this wildcard.
const Unrestricted = "all"

// Access metadata field names, shared with the ingestion side.
const (
	FieldRoles       = "access_roles"
	FieldTiers       = "access_tiers"
	FieldClearance   = "required_clearance_level"
	FieldDepartments = "allowed_departments"
	FieldRegions     = "allowed_regions"
)

// Policy builds store-level predicates and performs the in-process re-check.
type Policy struct{}

// New creates an access policy.
func New() *Policy {
	return &Policy{}
}

// BuildFilter maps the caller into a conjunctive predicate over access fields.
// Every condition admits the wildcard, so unrestricted documents always pass.
// The predicate is pushed down to the vector store: ineligible vectors are
// never returned, not merely dropped afterwards.
func (p *Policy) BuildFilter(c caller.Caller) (filter.Expression, error) {
	must := make([]filter.Condition, 0, 5)

	roleCond, err := filter.NewMatchAny(FieldRoles, c.Role(), Unrestricted)
	if err != nil {
		return filter.Expression{}, err
	}
	must = append(must, roleCond)

	tierValues := []string{Unrestricted}
	if c.Tier() != "" {
		tierValues = []string{c.Tier(), Unrestricted}
	}
	tierCond, err := filter.NewMatchAny(FieldTiers, tierValues...)
	if err != nil {
		return filter.Expression{}, err
	}
	must = append(must, tierCond)

	clearCond, err := filter.NewRange(FieldClearance, filter.AtMost(float64(c.Clearance())))
	if err != nil {
		return filter.Expression{}, err
	}
	must = append(must, clearCond)

	if c.Department() != "" {
		deptCond, err := filter.NewMatchAny(FieldDepartments, c.Department(), Unrestricted)
		if err != nil {
			return filter.Expression{}, err
		}
		must = append(must, deptCond)
	}

	if c.Region() != "" {
		regionCond, err := filter.NewMatchAny(FieldRegions, c.Region(), Unrestricted)
		if err != nil {
			return filter.Expression{}, err
		}
		must = append(must, regionCond)
	}

	return filter.NewExpression(must, nil, nil)
}

// Allows re-checks a returned match against the caller. The store already
// pre-filtered; this is defense in depth for stores or indexes that drift
// from the expected schema. Absent constraint fields mean unrestricted.
func (p *Policy) Allows(c caller.Caller, m *match.Match) bool {
	meta := m.Meta()

	if !tagAllows(meta.Roles, c.Role()) {
		return false
	}
	if !tagAllows(meta.Tiers, c.Tier()) {
		return false
	}
	if meta.RequiredClearance > c.Clearance() {
		return false
	}
	if !tagAllows(meta.Departments, c.Department()) {
		return false
	}
	if !tagAllows(meta.Regions, c.Region()) {
		return false
	}
	return true
}

// tagAllows reports whether the constraint admits the caller value.
// An empty constraint or a wildcard entry admits everyone. A caller with an
// empty value (e.g. no tier) only passes unrestricted constraints.
func tagAllows(constraint []string, value string) bool {
	if len(constraint) == 0 {
		return true
	}
	for _, entry := range constraint {
		if entry == Unrestricted {
			return true
		}
		if value != "" && entry == value {
			return true
		}
	}
	return false
}
