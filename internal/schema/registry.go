package schema

import (
	"sync"

	"docsieve/internal/logging"
)

// Registry holds domain definitions. Lifecycle: init -> populate
// (idempotent Register) -> read-only. Reads are safe for concurrent use
// after population; writes only happen during init.
type Registry struct {
	mu      sync.RWMutex
	domains map[string]*DomainDefinition
	order   []string // registration order, for deterministic tie-breaks

	functions *FunctionRegistry
}

// NewRegistry creates an empty registry bound to a function registry.
// The function registry is consulted at Register time to resolve
// function IDs referenced by field definitions.
func NewRegistry(functions *FunctionRegistry) *Registry {
	return &Registry{
		domains:   make(map[string]*DomainDefinition),
		functions: functions,
	}
}

// Register adds or replaces a domain definition. Duplicate names overwrite
// (last-writer-wins) so test setup can re-register freely. Referenced
// function IDs must resolve in the function registry.
func (r *Registry) Register(d DomainDefinition) error {
	if err := r.resolveFunctionIDs(&d); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.domains[d.Name]; !exists {
		r.order = append(r.order, d.Name)
	}
	copied := d
	r.domains[d.Name] = &copied

	logging.Registry("Registered domain %q: %d sub-domains", d.Name, len(d.SubDomains))
	return nil
}

// resolveFunctionIDs verifies every function ID referenced by the domain
// tree resolves in the function registry.
func (r *Registry) resolveFunctionIDs(d *DomainDefinition) error {
	check := func(id string) error {
		if id == "" {
			return nil
		}
		if !r.functions.Has(id) {
			return ErrUnknownFunction
		}
		return nil
	}

	for _, id := range []string{
		d.PreExtractionFunctionID, d.PostExtractionFunctionID,
		d.ValidationFunctionID, d.MergeFunctionID,
	} {
		if err := check(id); err != nil {
			return err
		}
	}
	for _, sd := range d.SubDomains {
		if err := check(sd.PreExtractionFunctionID); err != nil {
			return err
		}
		if err := check(sd.PostExtractionFunctionID); err != nil {
			return err
		}
		for _, f := range sd.Fields {
			for _, id := range []string{f.FormatFunctionID, f.ValidationFunctionID, f.PostProcessFunctionID} {
				if err := check(id); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Get returns the named domain.
func (r *Registry) Get(name string) (*DomainDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.domains[name]
	return d, ok
}

// GetSubDomain returns the named sub-domain of a domain.
func (r *Registry) GetSubDomain(domain, subDomain string) (*SubDomainDefinition, bool) {
	d, ok := r.Get(domain)
	if !ok {
		return nil, false
	}
	return d.SubDomain(subDomain)
}

// GetField finds the named field anywhere in a domain. Returns the owning
// sub-domain and the field definition.
func (r *Registry) GetField(domain, field string) (*SubDomainDefinition, *FieldDefinition, bool) {
	d, ok := r.Get(domain)
	if !ok {
		return nil, nil, false
	}
	return d.FieldByName(field)
}

// List returns all registered domains in registration order.
func (r *Registry) List() []*DomainDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*DomainDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.domains[name])
	}
	return out
}

// Names returns the registered domain names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Functions returns the function registry this registry resolves against.
func (r *Registry) Functions() *FunctionRegistry {
	return r.functions
}
