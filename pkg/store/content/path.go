package content

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxFilenameLength bounds the sanitized part of a resource file name.
	MaxFilenameLength = 48

	// maxExtensionLength is the longest extension kept intact by truncation.
	maxExtensionLength = 10

	// DefaultFilename is used when no usable name can be derived.
	DefaultFilename = "noname"
)

// GeneratePath derives the location of a new resource file.
//
// The result is root joined with every segment of the Domain path, followed by
// "<uuid>-<sanitized name>". The function is pure: it never touches the
// filesystem, and the same inputs always produce the same path.
//
// Parameters:
//   - root: Storage subtree root (absolute)
//   - segments: Domain path from the tree root down to the owning Domain
//   - id: Resource UUID, which makes the final segment unique
//   - suggestedFilename: Caller-visible name, sanitized before use
//
// Returns:
//   - string: Absolute path of the resource file
func GeneratePath(root string, segments []string, id uuid.UUID, suggestedFilename string) string {
	parts := make([]string, 0, len(segments)+2)
	parts = append(parts, root)
	for _, s := range segments {
		parts = append(parts, sanitizeSegment(s))
	}
	parts = append(parts, FileName(id, suggestedFilename))
	return filepath.Join(parts...)
}

// FileName returns the final path segment for a resource.
func FileName(id uuid.UUID, suggestedFilename string) string {
	return id.String() + "-" + SanitizeFilename(suggestedFilename)
}

// UUIDFromFileName extracts the Resource UUID from a name produced by FileName.
func UUIDFromFileName(name string) (uuid.UUID, bool) {
	// Canonical uuid text is 36 characters, followed by "-".
	if len(name) < 37 || name[36] != '-' {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(name[:36])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// SanitizeFilename makes name safe for use as a single path segment.
//
// Characters other than ASCII letters, digits, '.', '-' and '_' become '_'.
// Leading dots are dropped so the result is never hidden or relative. Names
// longer than MaxFilenameLength are truncated, keeping a short extension.
// An empty result becomes DefaultFilename.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	clean := strings.TrimLeft(b.String(), ".")
	if strings.Trim(clean, "_") == "" {
		return DefaultFilename
	}
	if len(clean) <= MaxFilenameLength {
		return clean
	}

	ext := filepath.Ext(clean)
	if len(ext) > maxExtensionLength || len(ext) == len(clean) {
		ext = ""
	}
	return clean[:MaxFilenameLength-len(ext)] + ext
}

// SuggestedFilename picks the name a new resource file is based on: the last
// path element of sourceReference when it has one, else the staged file name.
func SuggestedFilename(sourceReference, stagedPath string) string {
	if sourceReference != "" {
		p := sourceReference
		if u, err := url.Parse(sourceReference); err == nil && u.Path != "" {
			p = u.Path
		}
		if base := path.Base(p); base != "." && base != "/" {
			return base
		}
	}
	if stagedPath != "" {
		return filepath.Base(stagedPath)
	}
	return DefaultFilename
}

func sanitizeSegment(s string) string {
	if s == "" {
		return "_"
	}
	clean := SanitizeFilename(s)
	if clean == DefaultFilename && s != DefaultFilename {
		return "_"
	}
	return clean
}
