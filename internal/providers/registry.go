package providers

// Registry holds the configured Provider instances by name, resolved once
// at startup from config.
type Registry struct {
	providers map[string]Provider
	active    string
}

// NewRegistry returns an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider, replacing any existing entry with the same name.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
	if r.active == "" {
		r.active = p.Name()
	}
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Active returns the currently selected provider (the first registered,
// until SetActive picks another).
func (r *Registry) Active() (Provider, bool) {
	return r.Get(r.active)
}

// SetActive switches the active provider by name; returns false if unknown.
func (r *Registry) SetActive(name string) bool {
	if _, ok := r.providers[name]; !ok {
		return false
	}
	r.active = name
	return true
}

// Names lists registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	return names
}
