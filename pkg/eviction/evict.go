package eviction

import (
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittostash/pkg/store/metadata"
)

// Scope restricts eviction candidates to one Domain. The zero Scope is global.
type Scope struct {
	DomainID string
}

// Global is the scope covering every Domain.
func Global() Scope { return Scope{} }

// InDomain limits candidates to Resources owned by domainID.
func InDomain(domainID string) Scope { return Scope{DomainID: domainID} }

// IsGlobal reports whether s spans every Domain.
func (s Scope) IsGlobal() bool { return s.DomainID == "" }

// Plan is a set of Resources chosen for eviction.
type Plan struct {
	Victims []*metadata.Resource
	Freed   int64
}

// Merge appends other's victims to p.
func (p *Plan) Merge(other *Plan) {
	if other == nil {
		return
	}
	p.Victims = append(p.Victims, other.Victims...)
	p.Freed += other.Freed
}

// Select picks candidates in policy order until at least required bytes are
// covered.
//
// Candidates are the Resources in scope that are Evictable and not listed in
// exclude. Nothing is modified.
//
// Parameters:
//   - txn: Transaction to read candidates from
//   - policy: Candidate ordering
//   - scope: Domain restriction
//   - required: Bytes to free; values <= 0 need no eviction
//   - exclude: Resources that must survive (e.g. the one being registered,
//     or victims already chosen by another plan)
//
// Returns:
//   - *Plan: The chosen victims, empty when required <= 0
//   - bool: true only if the plan frees at least required bytes
//   - error: Store errors
func Select(txn metadata.Txn, policy Policy, scope Scope, required int64, exclude map[uuid.UUID]bool) (*Plan, bool, error) {
	plan := &Plan{}
	if required <= 0 {
		return plan, true, nil
	}

	all, err := txn.ListResources(scope.DomainID)
	if err != nil {
		return nil, false, err
	}

	candidates := make([]*metadata.Resource, 0, len(all))
	for _, r := range all {
		if !r.Evictable() || exclude[r.UUID] {
			continue
		}
		candidates = append(candidates, r)
	}
	Sort(policy, candidates)

	for _, r := range candidates {
		if plan.Freed >= required {
			break
		}
		plan.Victims = append(plan.Victims, r)
		plan.Freed += r.Size
	}
	return plan, plan.Freed >= required, nil
}

// Apply removes every victim in plan from txn and subtracts its size from the
// owning Domain. Victims are marked with PurgeDate = now; the returned plan
// carries those marked snapshots.
func Apply(txn metadata.Txn, plan *Plan, now time.Time) error {
	for _, victim := range plan.Victims {
		stamp := now
		victim.PurgeDate = &stamp

		if err := txn.DeleteResource(victim.UUID); err != nil {
			return err
		}

		d, err := txn.GetDomain(victim.DomainID)
		if metadata.IsNotFound(err) {
			return metadata.NewInvariantError("evicted resource references unknown domain "+victim.DomainID, victim.UUID.String())
		}
		if err != nil {
			return err
		}
		d.CurrentSize -= victim.Size
		if d.CurrentSize < 0 {
			return metadata.NewInvariantError("domain size would become negative", d.ID)
		}
		if err := txn.PutDomain(d); err != nil {
			return err
		}
	}
	return nil
}

// MakeRoomFor selects and applies a plan in one step.
//
// Returns false without modifying txn when the candidates cannot cover
// required bytes.
func MakeRoomFor(txn metadata.Txn, policy Policy, scope Scope, required int64, exclude map[uuid.UUID]bool, now time.Time) (*Plan, bool, error) {
	plan, ok, err := Select(txn, policy, scope, required, exclude)
	if err != nil || !ok {
		return nil, ok, err
	}
	if err := Apply(txn, plan, now); err != nil {
		return nil, false, err
	}
	return plan, true, nil
}
