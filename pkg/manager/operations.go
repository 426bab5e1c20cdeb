package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/marmos91/dittostash/internal/logger"
	"github.com/marmos91/dittostash/pkg/domain"
	"github.com/marmos91/dittostash/pkg/eviction"
	"github.com/marmos91/dittostash/pkg/store/content"
	"github.com/marmos91/dittostash/pkg/store/metadata"
)

// ============================================================================
// Lookup
// ============================================================================

func (m *Manager) lookup(ctx context.Context, req LookupRequest) (*metadata.Resource, error) {
	node, err := m.domains.Resolve(req.DomainID)
	if err != nil {
		return nil, err
	}

	var found *uuid.UUID
	var conflict []*metadata.Resource
	err = m.store.Update(ctx, func(txn metadata.Txn) error {
		matches, err := txn.FindResources(node.ID, req.filter())
		if err != nil {
			return err
		}

		switch len(matches) {
		case 0:
			return nil
		case 1:
			r := matches[0]
			r.AccessDate = m.now()
			found = &r.UUID
			return txn.PutResource(r)
		default:
			conflict = matches
			return metadata.NewConflictError(node.ID, matches)
		}
	})
	if conflict != nil {
		return nil, m.conflict(ctx, node.ID, conflict)
	}
	if err != nil {
		return nil, err
	}
	if found == nil {
		logger.Debug("Lookup miss: domain=%s", node.ID)
		return nil, nil
	}

	res, err := m.snapshot(ctx, *found)
	if err != nil {
		return nil, err
	}
	logger.Debug("Lookup hit: domain=%s uuid=%s path=%s", node.ID, res.UUID, res.Path)
	return res, nil
}

// conflict builds an ErrConflict whose matches come from the read view.
func (m *Manager) conflict(ctx context.Context, domainID string, matches []*metadata.Resource) error {
	fresh, err := m.snapshots(ctx, matches)
	if err != nil {
		return err
	}
	return metadata.NewConflictError(domainID, fresh)
}

// ============================================================================
// Register
// ============================================================================

// register adopts a staged file.
//
// Algorithm:
//  1. Resolve the Domain and validate the request; size the staged file
//  2. Find the existing Resource with the lookup query (more than one →
//     ErrConflict); an empty key matches the whole Domain
//  3. delta = newSize - oldSize; when positive, plan evictions for the
//     Domain quota, then the global quota (insufficient → ErrCapacityExceeded)
//  4. Create the record (uuid, path, create date) or reuse the existing one
//  5. Move the staged file into place (failure → ErrIOError)
//  6. Write the Resource and the Domain size; commit together with the
//     evictions
//  7. Delete evicted files and return a snapshot from the read view
//
// The filesystem is untouched before step 5, and any error discards the
// transaction, planned evictions included. If the commit itself fails after
// step 5, the moved file is left at its generated path for reconciliation.
func (m *Manager) register(ctx context.Context, req RegisterRequest) (*metadata.Resource, error) {
	// ========================================================================
	// Step 1: Validate
	// ========================================================================

	if req.StagedPath == "" {
		return nil, metadata.NewInvalidArgumentError("staged file path is required")
	}
	if m.content.Contains(req.StagedPath) {
		return nil, metadata.NewInvalidArgumentError("staged file must be outside the storage root")
	}
	if req.PurgePriority < 0 {
		return nil, metadata.NewInvalidArgumentError(fmt.Sprintf("purge priority must be >= 0, got %d", req.PurgePriority))
	}

	node, err := m.domains.Resolve(req.DomainID)
	if err != nil {
		return nil, err
	}

	newSize, err := m.content.Stat(ctx, req.StagedPath)
	if err != nil {
		return nil, metadata.NewIOError("cannot size staged file", req.StagedPath, err)
	}

	now := m.now()
	var (
		id          uuid.UUID
		plan        *eviction.Plan
		adoptedPath string
		conflict    []*metadata.Resource
	)

	err = m.store.Update(ctx, func(txn metadata.Txn) error {
		// ====================================================================
		// Step 2: Existing resource for this key
		// ====================================================================

		// Same query as lookup: an empty key matches the whole Domain.
		var existing *metadata.Resource
		matches, err := txn.FindResources(node.ID, req.filter())
		if err != nil {
			return err
		}
		if len(matches) > 1 {
			conflict = matches
			return metadata.NewConflictError(node.ID, matches)
		}
		if len(matches) == 1 {
			existing = matches[0]
		}

		// ====================================================================
		// Step 3: Capacity
		// ====================================================================

		var oldSize int64
		if existing != nil {
			oldSize = existing.Size
		}
		delta := newSize - oldSize

		plan, err = m.planEviction(ctx, txn, node, existing, delta)
		if err != nil {
			return err
		}
		if err := eviction.Apply(txn, plan, now); err != nil {
			return err
		}

		// ====================================================================
		// Step 4: Create or update the record
		// ====================================================================

		r := existing
		if r == nil {
			r, err = m.newResource(txn, node, req, now)
			if err != nil {
				return err
			}
		}
		r.Size = newSize
		r.UpdateDate = now
		r.AccessDate = now
		r.PurgePriority = req.PurgePriority
		r.PurgeDate = nil

		// ====================================================================
		// Step 5: Move the staged file into place
		// ====================================================================

		if err := m.content.Adopt(ctx, req.StagedPath, r.Path); err != nil {
			return metadata.NewIOError("cannot move staged file into place", r.Path, err)
		}
		adoptedPath = r.Path

		// ====================================================================
		// Step 6: Record and Domain size
		// ====================================================================

		if err := txn.PutResource(r); err != nil {
			return err
		}

		d, err := txn.GetDomain(node.ID)
		if metadata.IsNotFound(err) {
			return metadata.NewInvariantError("domain missing from store", node.ID)
		}
		if err != nil {
			return err
		}
		d.CurrentSize += delta
		if d.CurrentSize < 0 {
			return metadata.NewInvariantError("domain size would become negative", node.ID)
		}
		if err := txn.PutDomain(d); err != nil {
			return err
		}

		id = r.UUID
		return nil
	})
	if conflict != nil {
		return nil, m.conflict(ctx, node.ID, conflict)
	}
	if err != nil {
		if adoptedPath != "" {
			logger.With(logger.Fields{"op": "register", "domain": node.ID, "path": adoptedPath}).
				Errorf("Commit failed after moving file into place; it is left for reconciliation: %v", err)
		}
		return nil, err
	}

	// ========================================================================
	// Step 7: Evicted files and snapshot
	// ========================================================================

	touched := map[string]bool{node.ID: true}
	for _, v := range plan.Victims {
		touched[v.DomainID] = true
	}
	m.removeFiles(ctx, "evicted", plan.Victims)
	m.publishSizes(ctx, touched)

	res, err := m.snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	logger.Debug("Registered: domain=%s uuid=%s size=%d path=%s", node.ID, res.UUID, res.Size, res.Path)
	return res, nil
}

// newResource builds the record for a first registration.
func (m *Manager) newResource(txn metadata.Txn, node *domain.Node, req RegisterRequest, now time.Time) (*metadata.Resource, error) {
	id := uuid.New()
	if req.UUID != nil {
		id = *req.UUID
		if id == uuid.Nil {
			return nil, metadata.NewInvalidArgumentError("uuid must not be the nil uuid")
		}

		// The key lookup is scoped to this Domain; the uuid is global.
		taken, err := txn.GetResource(id)
		if err == nil {
			return nil, &metadata.StoreError{
				Code:    metadata.ErrConflict,
				Message: "uuid already registered in domain " + taken.DomainID,
				Path:    id.String(),
				Matches: []*metadata.Resource{taken},
			}
		}
		if !metadata.IsNotFound(err) {
			return nil, err
		}
	}

	r := &metadata.Resource{
		UUID:       id,
		DomainID:   node.ID,
		CreateDate: now,
	}
	if req.SourceReference != nil {
		r.SourceReference = *req.SourceReference
	}
	if req.Version != nil {
		r.Version = *req.Version
	}

	name := req.Filename
	if name == "" {
		name = content.SuggestedFilename(r.SourceReference, req.StagedPath)
	}
	r.Path = content.GeneratePath(m.content.Root(), node.Path(), id, name)
	return r, nil
}

// planEviction selects the Resources to evict so that delta more bytes fit.
//
// The Domain quota is satisfied first from the Domain's own candidates, then
// the global quota from all candidates. self (the Resource being updated) is
// never a candidate. Nothing is modified.
func (m *Manager) planEviction(ctx context.Context, txn metadata.Txn, node *domain.Node, self *metadata.Resource, delta int64) (*eviction.Plan, error) {
	plan := &eviction.Plan{}
	if delta <= 0 {
		return plan, nil
	}

	exclude := map[uuid.UUID]bool{}
	if self != nil {
		exclude[self.UUID] = true
	}

	if node.MaxBytes > 0 {
		d, err := txn.GetDomain(node.ID)
		if err != nil {
			return nil, err
		}
		if need := exceeded(node.MaxBytes, d.CurrentSize, delta); need > 0 {
			p, ok, err := eviction.Select(txn, m.policy, eviction.InDomain(node.ID), need, exclude)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, metadata.NewCapacityError(fmt.Sprintf(
					"domain quota of %s exceeded: %s more needed, only %s evictable",
					humanize.IBytes(uint64(node.MaxBytes)), humanize.IBytes(uint64(need)), humanize.IBytes(uint64(p.Freed))), node.ID)
			}
			plan.Merge(p)
			for _, v := range p.Victims {
				exclude[v.UUID] = true
			}
		}
	}

	used, err := metadata.TotalSize(txn)
	if err != nil {
		return nil, err
	}
	limit, err := m.quota.Limit(ctx, used)
	if err != nil {
		return nil, metadata.NewIOError("cannot determine quota", "", err)
	}
	m.metrics.SetQuota(max(limit, 0))

	if need := exceeded(limit, used-plan.Freed, delta); need > 0 {
		p, ok, err := eviction.Select(txn, m.policy, eviction.Global(), need, exclude)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, metadata.NewCapacityError(fmt.Sprintf(
				"storage quota exceeded: %s more needed, only %s evictable",
				humanize.IBytes(uint64(need)), humanize.IBytes(uint64(p.Freed))), node.ID)
		}
		plan.Merge(p)
	}
	return plan, nil
}

// ============================================================================
// Purge
// ============================================================================

func (m *Manager) purge(ctx context.Context, domainID string, id uuid.UUID) (*metadata.Resource, error) {
	node, err := m.domains.Resolve(domainID)
	if err != nil {
		return nil, err
	}

	var victim *metadata.Resource
	err = m.store.Update(ctx, func(txn metadata.Txn) error {
		r, err := txn.GetResource(id)
		if err != nil {
			return err
		}
		if r.DomainID != node.ID {
			return metadata.NewNotFoundError("resource", id.String())
		}
		plan := &eviction.Plan{Victims: []*metadata.Resource{r}, Freed: r.Size}
		if err := eviction.Apply(txn, plan, m.now()); err != nil {
			return err
		}
		victim = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.removeFiles(ctx, "purged", []*metadata.Resource{victim})
	m.publishSizes(ctx, map[string]bool{node.ID: true})
	return victim, nil
}

// removeFiles deletes the files of Resources whose records were committed as
// removed. Failures only leave orphans behind, which reconciliation deletes.
func (m *Manager) removeFiles(ctx context.Context, reason string, victims []*metadata.Resource) {
	for _, v := range victims {
		fields := logger.Fields{"domain": v.DomainID, "uuid": v.UUID.String(), "bytes": v.Size, "priority": v.PurgePriority}

		err := m.content.Remove(ctx, v.Path)
		switch {
		case err == nil, errors.Is(err, content.ErrContentNotFound):
		default:
			logger.With(fields).Warnf("Failed to delete %s file %s; left for reconciliation: %v", reason, v.Path, err)
		}

		if reason == "evicted" {
			m.metrics.RecordEviction(v.DomainID, v.Size)
		}
		logger.With(fields).Infof("Resource %s (%s)", reason, humanize.IBytes(uint64(v.Size)))
	}
}
