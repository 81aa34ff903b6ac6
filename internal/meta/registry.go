package meta

import "sync"

// Registry is the in-memory view of the persisted DocType catalog.
// The catalog tables are the source of truth; the registry is refreshed on
// startup and after every schema sync.
type Registry struct {
	mu       sync.RWMutex
	doctypes map[string]*DocType
}

func NewRegistry() *Registry {
	return &Registry{doctypes: make(map[string]*DocType)}
}

// Get returns the DocType with the given name, or nil.
func (r *Registry) Get(name string) *DocType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doctypes[name]
}

// All returns all registered DocTypes.
func (r *Registry) All() []*DocType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*DocType, 0, len(r.doctypes))
	for _, d := range r.doctypes {
		all = append(all, d)
	}
	return all
}

// Put inserts or replaces a single DocType.
func (r *Registry) Put(d *DocType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doctypes[d.Name] = d
}

// Load replaces the whole registry. Called during startup.
func (r *Registry) Load(doctypes []*DocType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doctypes = make(map[string]*DocType, len(doctypes))
	for _, d := range doctypes {
		r.doctypes[d.Name] = d
	}
}
