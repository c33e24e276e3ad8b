// Package caller models the identity and scope of the requesting user.
package caller

import "fmt"

// Caller identifies the requesting user for access control and namespace scoping.
type Caller struct {
	role       string
	tier       string
	clearance  int
	employeeID string
	department string
	region     string
}

// New validates and creates a Caller. Role is required; everything else is optional.
// Clearance 0 means the caller holds no clearance at all.
func New(role, tier string, clearance int, employeeID, department, region string) (Caller, error) {
	if role == "" {
		return Caller{}, fmt.Errorf("caller role is required")
	}
	if clearance < 0 {
		return Caller{}, fmt.Errorf("clearance must be non-negative, got %d", clearance)
	}
	return Caller{
		role:       role,
		tier:       tier,
		clearance:  clearance,
		employeeID: employeeID,
		department: department,
		region:     region,
	}, nil
}

// Role returns the caller's role (agent, manager, admin).
func (c Caller) Role() string { return c.role }

// Tier returns the caller's subscription tier.
func (c Caller) Tier() string { return c.tier }

// Clearance returns the caller's clearance level.
func (c Caller) Clearance() int { return c.clearance }

// EmployeeID returns the caller's employee number, empty for non-employee callers.
func (c Caller) EmployeeID() string { return c.employeeID }

// Department returns the caller's department.
func (c Caller) Department() string { return c.department }

// Region returns the caller's region.
func (c Caller) Region() string { return c.region }
