package policy

import (
	"fmt"

	"github.com/eliteGoblin/focusd/sec_comp/internal/domain"
)

// Registry holds the policy of every component kind.
type Registry struct {
	policies map[domain.ComponentType]ComponentPolicy
}

// NewRegistry creates a registry with all default policies.
func NewRegistry() *Registry {
	r := &Registry{
		policies: make(map[domain.ComponentType]ComponentPolicy),
	}

	r.Register(NewLocationPolicy())
	r.Register(NewPastePolicy())
	r.Register(NewSavePolicy())

	return r
}

// NewRegistryWithPolicies creates a registry with custom policies (for testing).
func NewRegistryWithPolicies(policies ...ComponentPolicy) *Registry {
	r := &Registry{
		policies: make(map[domain.ComponentType]ComponentPolicy),
	}
	for _, p := range policies {
		r.Register(p)
	}
	return r
}

// Register adds a policy to the registry.
func (r *Registry) Register(p ComponentPolicy) {
	r.policies[p.Type()] = p
}

// Get returns the policy for a component kind.
func (r *Registry) Get(t domain.ComponentType) (ComponentPolicy, bool) {
	p, ok := r.policies[t]
	return p, ok
}

// Lookup returns the policy for a kind or an error naming the unknown kind.
func (r *Registry) Lookup(t domain.ComponentType) (ComponentPolicy, error) {
	p, ok := r.policies[t]
	if !ok {
		return nil, fmt.Errorf("no policy for component type %s", t)
	}
	return p, nil
}

// GetAll returns all registered policies.
func (r *Registry) GetAll() []ComponentPolicy {
	result := make([]ComponentPolicy, 0, len(r.policies))
	for _, t := range []domain.ComponentType{domain.LocationComponent, domain.PasteComponent, domain.SaveComponent} {
		if p, ok := r.policies[t]; ok {
			result = append(result, p)
		}
	}
	return result
}

// AllPermissions returns every platform permission any policy may grant.
func (r *Registry) AllPermissions() []string {
	var perms []string
	for _, p := range r.GetAll() {
		perms = append(perms, p.Permissions()...)
	}
	return perms
}
