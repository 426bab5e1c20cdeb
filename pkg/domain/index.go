// Package domain holds the process-wide Domain index.
//
// Domains are read once from the metadata store at startup and cached as an
// immutable tree. Every manager operation resolves its Domain here, so the hot
// path never round-trips to the store for topology.
package domain

import (
	"context"
	"fmt"
	"sort"

	"github.com/marmos91/dittostash/pkg/store/metadata"
)

// Node is one Domain in the cached tree.
//
// Only the static attributes are cached. CurrentSize changes with every
// registration and must be read from the metadata store.
type Node struct {
	ID       string
	Name     string
	ParentID string
	MaxBytes int64

	parent *Node
}

// Parent returns the owning Domain, or nil for a root.
func (n *Node) Parent() *Node {
	return n.parent
}

// Path returns the Domain names from the tree root down to n.
// It is recomputed on each call.
func (n *Node) Path() []string {
	var depth int
	for cur := n; cur != nil; cur = cur.parent {
		depth++
	}
	segments := make([]string, depth)
	for cur := n; cur != nil; cur = cur.parent {
		depth--
		segments[depth] = cur.Name
	}
	return segments
}

// Index maps Domain identifiers to Nodes.
//
// Thread Safety:
// An Index is never mutated after Load returns, so concurrent readers need no
// synchronization.
type Index struct {
	nodes map[string]*Node
}

// Load reads every Domain from store and links the tree.
//
// Returns:
//   - *Index: The immutable index
//   - error: Store errors, or an InvariantViolation when a Domain references
//     an unknown parent or the parent chain loops
func Load(ctx context.Context, store metadata.MetadataStore) (*Index, error) {
	var domains []*metadata.Domain
	err := store.View(ctx, func(txn metadata.Txn) error {
		var err error
		domains, err = txn.ListDomains()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load domains: %w", err)
	}
	return build(domains)
}

func build(domains []*metadata.Domain) (*Index, error) {
	idx := &Index{nodes: make(map[string]*Node, len(domains))}
	for _, d := range domains {
		idx.nodes[d.ID] = &Node{ID: d.ID, Name: d.Name, ParentID: d.ParentID, MaxBytes: d.MaxBytes}
	}

	for _, n := range idx.nodes {
		if n.ParentID == "" {
			continue
		}
		parent, ok := idx.nodes[n.ParentID]
		if !ok {
			return nil, metadata.NewInvariantError("domain references unknown parent "+n.ParentID, n.ID)
		}
		n.parent = parent
	}

	for _, n := range idx.nodes {
		if err := checkAcyclic(n, len(idx.nodes)); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func checkAcyclic(n *Node, limit int) error {
	steps := 0
	for cur := n.parent; cur != nil; cur = cur.parent {
		steps++
		if cur == n || steps > limit {
			return metadata.NewInvariantError("domain parent chain contains a cycle", n.ID)
		}
	}
	return nil
}

// Resolve returns the Domain with the given identifier, or ErrNotFound.
func (i *Index) Resolve(id string) (*Node, error) {
	n, ok := i.nodes[id]
	if !ok {
		return nil, metadata.NewNotFoundError("domain", id)
	}
	return n, nil
}

// All returns every Domain sorted by identifier.
func (i *Index) All() []*Node {
	result := make([]*Node, 0, len(i.nodes))
	for _, n := range i.nodes {
		result = append(result, n)
	}
	sort.Slice(result, func(a, b int) bool { return result[a].ID < result[b].ID })
	return result
}

// Len returns the number of Domains.
func (i *Index) Len() int {
	return len(i.nodes)
}
