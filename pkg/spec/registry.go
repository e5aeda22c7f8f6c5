package spec

import (
	"sync"

	"github.com/yawl-engine/core/pkg/yawlerr"
)

type specKey struct {
	uri     string
	version string
}

// Registry holds every loaded Specification, keyed by (URI, Version), per A.4.6's
// loadSpecification/unloadSpecification and A.5's "many cases reading, rare
// writes on load/unload" concurrency note. Grounded on
// internal/application/observer/manager.go's RWMutex-guarded registration map,
// generalized to a two-part key.
type Registry struct {
	mu    sync.RWMutex
	specs map[specKey]*Specification

	// refs counts live cases referencing each specification, so Unload can refuse
	// to remove one still in use (A.3's specification lifecycle).
	refs map[specKey]int
}

func NewRegistry() *Registry {
	return &Registry{
		specs: make(map[specKey]*Specification),
		refs:  make(map[specKey]int),
	}
}

// Load registers a validated specification. A duplicate (URI, Version) pair is
// rejected.
func (reg *Registry) Load(s *Specification) error {
	if err := s.Validate(); err != nil {
		return err
	}
	key := specKey{s.URI, s.Version}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.specs[key]; exists {
		return yawlerr.ErrSpecificationDuplicate
	}
	reg.specs[key] = s
	return nil
}

// Get returns the specification registered under (uri, version).
func (reg *Registry) Get(uri, version string) (*Specification, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	s, ok := reg.specs[specKey{uri, version}]
	if !ok {
		return nil, yawlerr.ErrSpecificationNotFound
	}
	return s, nil
}

// Unload removes a specification, failing if any case currently references it.
func (reg *Registry) Unload(uri, version string) error {
	key := specKey{uri, version}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.specs[key]; !ok {
		return yawlerr.ErrSpecificationNotFound
	}
	if reg.refs[key] > 0 {
		return yawlerr.ErrSpecificationInUse
	}
	delete(reg.specs, key)
	delete(reg.refs, key)
	return nil
}

// AcquireRef records that a case has launched against (uri, version), keeping it
// in use for the purposes of Unload.
func (reg *Registry) AcquireRef(uri, version string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.refs[specKey{uri, version}]++
}

// ReleaseRef records that a case referencing (uri, version) has completed,
// cancelled, or been evicted.
func (reg *Registry) ReleaseRef(uri, version string) {
	key := specKey{uri, version}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.refs[key] > 0 {
		reg.refs[key]--
	}
}

// List returns every (URI, Version) pair currently registered.
func (reg *Registry) List() []Identity {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]Identity, 0, len(reg.specs))
	for k := range reg.specs {
		out = append(out, Identity{URI: k.uri, Version: k.version})
	}
	return out
}

// Identity names one registered specification by its (URI, Version) pair.
type Identity struct {
	URI     string
	Version string
}
