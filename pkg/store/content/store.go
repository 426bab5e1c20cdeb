package content

import (
	"context"
)

// ============================================================================
// ContentStore Interface
// ============================================================================

// ContentStore manages the bytes of resource files on behalf of the resource
// manager.
//
// Separation of Concerns:
// The content store only moves, sizes and removes files. It does NOT manage:
//   - Resource records, sizes and quotas → handled by MetadataStore
//   - Path selection → handled by GeneratePath
//
// Paths are absolute. Resource files live below Root(); staged files handed
// to Adopt may live anywhere on the host.
//
// Thread Safety:
// Implementations must be safe for concurrent use. The resource manager is the
// only writer below Root(), so no per-file locking is performed.
type ContentStore interface {
	// Root returns the absolute directory under which resource files live.
	Root() string

	// Contains reports whether path lies below Root(). Relative paths are
	// resolved against the working directory.
	Contains(path string) bool

	// Stat returns the size in bytes of the regular file at path.
	//
	// Returns:
	//   - int64: File size
	//   - error: ErrContentNotFound if missing, ErrNotRegularFile for
	//     directories and devices, or other I/O errors
	Stat(ctx context.Context, path string) (int64, error)

	// Adopt moves the staged file to dest, creating parent directories and
	// replacing any file already at dest. Readers of dest observe either the
	// old or the new content, never a partial file.
	//
	// When staged and dest are on different filesystems the file is copied to
	// a temporary sibling of dest (see TempPrefix) and renamed into place; the
	// staged file is removed after a successful copy.
	//
	// A staged file below Root() is rejected with ErrInsideRoot.
	Adopt(ctx context.Context, staged, dest string) error

	// Remove deletes the file at path and prunes directories left empty up to
	// Root(). Returns ErrContentNotFound if the file does not exist.
	Remove(ctx context.Context, path string) error

	// Walk visits every regular file below Root(), in lexical order.
	Walk(ctx context.Context, fn WalkFunc) error
}

// WalkFunc is called by ContentStore.Walk for each file.
type WalkFunc func(path string, size int64) error

// TempPrefix prefixes temporary files created while adopting across filesystems.
// Leftovers are removed by reconciliation.
const TempPrefix = ".adopt-"
