// Package eviction selects and removes Resources to free quota.
//
// Eviction happens inside the caller's metadata transaction. Selection (Select)
// is pure; Apply removes the chosen records and adjusts Domain sizes. Files are
// not touched here: the caller deletes them once the transaction has committed,
// so a discarded transaction never loses data.
package eviction

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/dittostash/pkg/store/metadata"
)

// Policy orders eviction candidates. Candidates that sort first are evicted
// first. Only Resources with PurgePriority > 0 and no PurgeDate are ever
// offered to a Policy.
type Policy interface {
	// Name is the identifier used in configuration.
	Name() string

	// Less reports whether a should be evicted before b.
	Less(a, b *metadata.Resource) bool
}

// ============================================================================
// Built-in policies
// ============================================================================

// PriorityPolicy evicts the highest PurgePriority first and, among equal
// priorities, the least recently accessed. Remaining ties break on UUID so the
// order is deterministic.
type PriorityPolicy struct{}

func (PriorityPolicy) Name() string { return "priority" }

func (PriorityPolicy) Less(a, b *metadata.Resource) bool {
	if a.PurgePriority != b.PurgePriority {
		return a.PurgePriority > b.PurgePriority
	}
	if !a.AccessDate.Equal(b.AccessDate) {
		return a.AccessDate.Before(b.AccessDate)
	}
	return uuidLess(a, b)
}

// LRUPolicy evicts the least recently accessed candidate regardless of priority.
type LRUPolicy struct{}

func (LRUPolicy) Name() string { return "lru" }

func (LRUPolicy) Less(a, b *metadata.Resource) bool {
	if !a.AccessDate.Equal(b.AccessDate) {
		return a.AccessDate.Before(b.AccessDate)
	}
	return uuidLess(a, b)
}

// SmallestFirstPolicy evicts the smallest files first, oldest access on ties.
type SmallestFirstPolicy struct{}

func (SmallestFirstPolicy) Name() string { return "smallest" }

func (SmallestFirstPolicy) Less(a, b *metadata.Resource) bool {
	if a.Size != b.Size {
		return a.Size < b.Size
	}
	if !a.AccessDate.Equal(b.AccessDate) {
		return a.AccessDate.Before(b.AccessDate)
	}
	return uuidLess(a, b)
}

func uuidLess(a, b *metadata.Resource) bool {
	return strings.Compare(a.UUID.String(), b.UUID.String()) < 0
}

// Sort orders resources in place according to p.
func Sort(p Policy, resources []*metadata.Resource) {
	sort.SliceStable(resources, func(i, j int) bool {
		return p.Less(resources[i], resources[j])
	})
}

// ============================================================================
// Registry
// ============================================================================

var (
	registryMu sync.RWMutex
	registry   = map[string]Policy{}
)

func init() {
	Register(PriorityPolicy{})
	Register(LRUPolicy{})
	Register(SmallestFirstPolicy{})
}

// Register makes p available to ByName. A later registration with the same
// name replaces the earlier one.
func Register(p Policy) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p.Name()] = p
}

// ByName returns the registered policy with the given name. The empty name
// selects PriorityPolicy.
func ByName(name string) (Policy, error) {
	if name == "" {
		return PriorityPolicy{}, nil
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown eviction policy %q (known: %s)", name, strings.Join(namesLocked(), ", "))
	}
	return p, nil
}

// Names returns the registered policy names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
