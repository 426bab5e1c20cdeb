package manager

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/disk"
)

// Quota yields the global byte limit for all Resources.
type Quota interface {
	// Limit returns the maximum number of bytes Resources may occupy, given
	// that they currently occupy used bytes. Zero means unlimited and a
	// negative value means no space at all.
	Limit(ctx context.Context, used int64) (int64, error)
}

// Unlimited is a Quota with no limit.
type Unlimited struct{}

// Limit implements Quota.
func (Unlimited) Limit(context.Context, int64) (int64, error) { return 0, nil }

// Fixed is a constant byte limit.
type Fixed int64

// Limit implements Quota.
func (f Fixed) Limit(context.Context, int64) (int64, error) { return int64(f), nil }

// DiskQuota derives the limit from the filesystem holding Path: bytes already
// used by Resources plus free space, minus Reserve bytes kept for other users
// of the disk.
type DiskQuota struct {
	Path    string
	Reserve int64

	// usage is replaced in tests
	usage func(path string) (free uint64, err error)
}

// NewDiskQuota creates a DiskQuota for the filesystem containing path.
func NewDiskQuota(path string, reserve int64) *DiskQuota {
	return &DiskQuota{Path: path, Reserve: reserve}
}

// Limit implements Quota.
func (q *DiskQuota) Limit(ctx context.Context, used int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	usage := q.usage
	if usage == nil {
		usage = diskFree
	}
	free, err := usage(q.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to query free space of %s: %w", q.Path, err)
	}

	limit := used + int64(free) - q.Reserve
	if limit <= 0 {
		return -1, nil
	}
	return limit, nil
}

func diskFree(path string) (uint64, error) {
	stat, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return stat.Free, nil
}

// exceeded returns how many bytes must be freed so that used+delta fits limit.
func exceeded(limit, used, delta int64) int64 {
	switch {
	case limit == 0:
		return 0
	case limit < 0:
		return used + delta
	}
	if over := used + delta - limit; over > 0 {
		return over
	}
	return 0
}
