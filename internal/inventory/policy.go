// internal/inventory/policy.go
package inventory

import "fmt"

// AvailabilityPolicy selects the transition that clears a unit's available flag.
type AvailabilityPolicy string

const (
	// ReserveOnStart clears available when the slot starts. Assignment is a
	// reservation only.
	ReserveOnStart AvailabilityPolicy = "start"
	// ReserveOnAssign clears available as soon as the unit is bound.
	ReserveOnAssign AvailabilityPolicy = "assign"
)

// CapacityPolicy selects how slot creation interacts with slot capacity.
type CapacityPolicy string

const (
	// CapacityGrow raises slot capacity to cover newly created slots.
	CapacityGrow CapacityPolicy = "grow"
	// CapacityStrict rejects slots beyond the declared capacity.
	CapacityStrict CapacityPolicy = "strict"
)

// Policy bundles the behaviours that differ between deployments.
type Policy struct {
	Availability AvailabilityPolicy
	Capacity     CapacityPolicy
}

// DefaultPolicy reserves on start and grows capacity.
func DefaultPolicy() Policy {
	return Policy{Availability: ReserveOnStart, Capacity: CapacityGrow}
}

// ParsePolicy builds a Policy from its configuration strings. Empty values
// fall back to the defaults.
func ParsePolicy(availability, capacity string) (Policy, error) {
	p := DefaultPolicy()
	switch AvailabilityPolicy(availability) {
	case "":
	case ReserveOnStart, ReserveOnAssign:
		p.Availability = AvailabilityPolicy(availability)
	default:
		return p, fmt.Errorf("unknown availability policy %q", availability)
	}
	switch CapacityPolicy(capacity) {
	case "":
	case CapacityGrow, CapacityStrict:
		p.Capacity = CapacityPolicy(capacity)
	default:
		return p, fmt.Errorf("unknown capacity policy %q", capacity)
	}
	return p, nil
}
