package manager

import (
	"context"
	"sort"

	"github.com/marmos91/dittostash/pkg/store/metadata"
)

// DomainUsage reports the consumption of one Domain.
type DomainUsage struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	ParentID    string   `json:"parent_id,omitempty"`
	Path        []string `json:"path"`
	CurrentSize int64    `json:"current_size"`
	MaxBytes    int64    `json:"max_bytes,omitempty"`
	Resources   int      `json:"resources"`
}

// Usage is a point-in-time view of storage consumption.
type Usage struct {
	Domains []DomainUsage `json:"domains"`

	// Total is the sum of every Domain's CurrentSize
	Total int64 `json:"total"`

	// Quota is the effective global limit (0 = unlimited, negative = no space)
	Quota int64 `json:"quota"`
}

// Usage reads current consumption through a read-only view. It does not go
// through the operation queue, so it may run concurrently with a registration
// and observes the last committed state.
func (m *Manager) Usage(ctx context.Context) (*Usage, error) {
	usage := &Usage{}
	err := m.store.View(ctx, func(txn metadata.Txn) error {
		domains, err := txn.ListDomains()
		if err != nil {
			return err
		}
		for _, d := range domains {
			resources, err := txn.ListResources(d.ID)
			if err != nil {
				return err
			}
			du := DomainUsage{
				ID:          d.ID,
				Name:        d.Name,
				ParentID:    d.ParentID,
				CurrentSize: d.CurrentSize,
				MaxBytes:    d.MaxBytes,
				Resources:   len(resources),
			}
			if node, err := m.domains.Resolve(d.ID); err == nil {
				du.Path = node.Path()
			}
			usage.Domains = append(usage.Domains, du)
			usage.Total += d.CurrentSize
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(usage.Domains, func(i, j int) bool { return usage.Domains[i].ID < usage.Domains[j].ID })

	limit, err := m.quota.Limit(ctx, usage.Total)
	if err != nil {
		return nil, err
	}
	usage.Quota = limit
	m.metrics.SetQuota(max(limit, 0))
	return usage, nil
}

// Resources lists the committed Resources of a Domain, or of every Domain
// when domainID is empty. Like Usage it reads outside the queue.
func (m *Manager) Resources(ctx context.Context, domainID string) ([]*metadata.Resource, error) {
	if domainID != "" {
		if _, err := m.domains.Resolve(domainID); err != nil {
			return nil, err
		}
	}
	var result []*metadata.Resource
	err := m.store.View(ctx, func(txn metadata.Txn) error {
		var err error
		result, err = txn.ListResources(domainID)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreateDate.Before(result[j].CreateDate) })
	return result, nil
}
