package policy

import "github.com/eliteGoblin/focusd/sec_comp/internal/domain"

// Location permissions, granted in this order.
const (
	ApproximatelyLocationPermission = "permission.APPROXIMATELY_LOCATION"
	LocationPermission              = "permission.LOCATION"
)

// LocationPolicy implements ComponentPolicy for the location button.
type LocationPolicy struct {
	basePolicy
}

// NewLocationPolicy creates the location button policy.
func NewLocationPolicy() *LocationPolicy {
	return &LocationPolicy{}
}

func (p *LocationPolicy) Type() domain.ComponentType {
	return domain.LocationComponent
}

func (p *LocationPolicy) Name() string {
	return "Location"
}

// Permissions grants the coarse permission first; precise location depends on it.
func (p *LocationPolicy) Permissions() []string {
	return []string{ApproximatelyLocationPermission, LocationPermission}
}

func (p *LocationPolicy) Debounced() bool {
	return false
}

func (p *LocationPolicy) FirstUseMask() uint64 {
	return LocationFirstUseMask
}
