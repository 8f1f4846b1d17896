package capability

import (
	"sync"

	"github.com/cockroachdb/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/hupe1980/agentloop/logging"
)

// ErrRegistrySealed is returned when registering into a sealed registry.
var ErrRegistrySealed = errors.New("capability registry is sealed")

// Registry maps capability names to capabilities.
//
// Lookup is O(1). Registering a name twice replaces the earlier capability
// (last registration wins) and is logged as a caller error. A run seals the
// registry before its first reasoning step; afterwards it is read-only and
// safe for concurrent readers.
type Registry struct {
	mu     sync.RWMutex
	caps   *orderedmap.OrderedMap[string, Capability]
	sealed bool
	logger logging.Logger
}

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// NewRegistry creates a registry holding caps.
func NewRegistry(caps []Capability, optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	r := &Registry{
		caps:   orderedmap.New[string, Capability](),
		logger: opts.Logger,
	}

	_ = r.Register(caps...)

	return r
}

// Register adds capabilities. It fails with ErrRegistrySealed once sealed.
func (r *Registry) Register(caps ...Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return errors.Wrapf(ErrRegistrySealed, "register %d capabilities", len(caps))
	}

	for _, c := range caps {
		if c == nil {
			continue
		}
		if _, replaced := r.caps.Set(c.Name(), c); replaced {
			r.logger.Warn("capability.registry.duplicate", "capability", c.Name())
		}
	}

	return nil
}

// Seal makes the registry read-only. Sealing twice is a no-op.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sealed = true
}

// Sealed reports whether the registry is read-only.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sealed
}

// Lookup returns the capability registered under name.
func (r *Registry) Lookup(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.caps.Get(name)
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.caps.Len()
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, r.caps.Len())
	for pair := r.caps.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}

	return names
}

// Descriptors returns the backend facing descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, r.caps.Len())
	for pair := r.caps.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, DescriptorOf(pair.Value))
	}

	return out
}
