package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedAndUnlimited(t *testing.T) {
	ctx := context.Background()

	limit, err := Unlimited{}.Limit(ctx, 1<<40)
	require.NoError(t, err)
	assert.Equal(t, int64(0), limit)

	limit, err = Fixed(100).Limit(ctx, 1<<40)
	require.NoError(t, err)
	assert.Equal(t, int64(100), limit)
}

func TestDiskQuota(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		free    uint64
		reserve int64
		used    int64
		want    int64
	}{
		{name: "free plus used", free: 1000, used: 500, want: 1500},
		{name: "reserve subtracted", free: 1000, reserve: 200, used: 500, want: 1300},
		{name: "reserve exceeds", free: 100, reserve: 1000, used: 50, want: -1},
		{name: "exactly zero", free: 100, reserve: 100, want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewDiskQuota("/data", tt.reserve)
			q.usage = func(path string) (uint64, error) {
				assert.Equal(t, "/data", path)
				return tt.free, nil
			}

			limit, err := q.Limit(ctx, tt.used)
			require.NoError(t, err)
			assert.Equal(t, tt.want, limit)
		})
	}
}

func TestDiskQuota_Errors(t *testing.T) {
	q := NewDiskQuota("/data", 0)
	q.usage = func(string) (uint64, error) { return 0, errors.New("statfs failed") }

	_, err := q.Limit(context.Background(), 0)
	assert.ErrorContains(t, err, "statfs failed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.Limit(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiskQuota_RealFilesystem(t *testing.T) {
	q := NewDiskQuota(t.TempDir(), 0)
	limit, err := q.Limit(context.Background(), 0)
	require.NoError(t, err)
	assert.NotZero(t, limit)
}

func TestExceeded(t *testing.T) {
	assert.Equal(t, int64(0), exceeded(0, 1000, 1000), "unlimited")
	assert.Equal(t, int64(0), exceeded(100, 50, 50))
	assert.Equal(t, int64(1), exceeded(100, 50, 51))
	assert.Equal(t, int64(30), exceeded(-1, 10, 20), "no space")
}
