package content

import "errors"

var (
	// ErrContentNotFound indicates the file does not exist.
	ErrContentNotFound = errors.New("content not found")

	// ErrNotRegularFile indicates the path names a directory or special file.
	ErrNotRegularFile = errors.New("not a regular file")

	// ErrOutsideRoot indicates a destination that is not below the store root.
	ErrOutsideRoot = errors.New("path outside storage root")

	// ErrInsideRoot indicates a staged file that already lives below the
	// store root, possibly as another resource's file.
	ErrInsideRoot = errors.New("staged path inside storage root")
)
