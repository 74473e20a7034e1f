package builtin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/polisai/polis-safety/pkg/domain"
	"github.com/polisai/polis-safety/pkg/policy"
)

// Entry is a named policy constructor.
type Entry struct {
	Name        string
	Description string
	// Capabilities lists what the constructor needs from Deps: "finder", "explainer".
	Capabilities []string
	New          Constructor
}

// Registry provides a threadsafe catalog of policy constructors keyed by
// case-insensitive name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry constructs an empty Registry instance.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register inserts or replaces an entry using its name as the identifier.
func (r *Registry) Register(entry Entry) error {
	if strings.TrimSpace(entry.Name) == "" {
		return fmt.Errorf("builtin: registry entry name is required")
	}
	if entry.New == nil {
		return fmt.Errorf("builtin: registry entry %s missing constructor", entry.Name)
	}

	key := strings.ToLower(entry.Name)

	r.mu.Lock()
	r.entries[key] = entry
	r.mu.Unlock()
	return nil
}

// RegisterAll inserts multiple entries in a single call.
func (r *Registry) RegisterAll(entries []Entry) error {
	for _, entry := range entries {
		if err := r.Register(entry); err != nil {
			return err
		}
	}
	return nil
}

// Resolve retrieves an entry by identifier.
func (r *Registry) Resolve(id string) (Entry, bool) {
	if id == "" {
		return Entry{}, false
	}
	key := strings.ToLower(id)

	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()
	return entry, ok
}

// Build resolves id and constructs the policy with deps.
func (r *Registry) Build(id string, deps Deps) (*policy.Policy, error) {
	entry, ok := r.Resolve(id)
	if !ok {
		return nil, fmt.Errorf("builtin: policy %q: %w", id, domain.ErrNotFound)
	}
	return entry.New(deps)
}

// Entries returns a snapshot of all registered entries sorted by name.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		result = append(result, entry)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry populated with the built-in policies.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = newRegistryWithBuiltins()
	})
	return defaultRegistry
}

func newRegistryWithBuiltins() *Registry {
	return newRegistryFrom(definitions)
}

// newRegistryFrom panics when defs cannot be registered; the built-in table is
// fixed at compile time.
func newRegistryFrom(defs []definition) *Registry {
	r := NewRegistry()
	entries := make([]Entry, 0, len(defs))
	for _, s := range defs {
		var caps []string
		if s.detection == finderDetection {
			caps = append(caps, "finder")
		}
		if s.explained {
			caps = append(caps, "explainer")
		}
		entries = append(entries, Entry{
			Name:         s.name,
			Description:  s.description,
			Capabilities: caps,
			New:          s.build,
		})
	}
	if err := r.RegisterAll(entries); err != nil {
		panic(fmt.Sprintf("builtin: register built-in policies: %v", err))
	}
	return r
}
