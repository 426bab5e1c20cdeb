package manager

import (
	"context"

	"github.com/google/uuid"
	"github.com/marmos91/dittostash/pkg/store/metadata"
)

type result struct {
	res *metadata.Resource
	err error
}

// wait submits an operation and blocks until its callback runs or ctx ends.
//
// A context that ends first does not cancel the operation: it still runs to
// completion, and its late result is dropped.
func wait(ctx context.Context, submit func(cb ResourceCallback)) (*metadata.Resource, error) {
	done := make(chan result, 1)
	submit(func(res *metadata.Resource, err error) {
		done <- result{res: res, err: err}
	})

	select {
	case r := <-done:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LookupWait is the blocking form of Lookup.
func (m *Manager) LookupWait(ctx context.Context, req LookupRequest) (*metadata.Resource, error) {
	return wait(ctx, func(cb ResourceCallback) { m.Lookup(req, cb) })
}

// RegisterWait is the blocking form of Register.
func (m *Manager) RegisterWait(ctx context.Context, req RegisterRequest) (*metadata.Resource, error) {
	return wait(ctx, func(cb ResourceCallback) { m.Register(req, cb) })
}

// PurgeWait is the blocking form of Purge.
func (m *Manager) PurgeWait(ctx context.Context, domainID string, id uuid.UUID) (*metadata.Resource, error) {
	return wait(ctx, func(cb ResourceCallback) { m.Purge(domainID, id, cb) })
}
