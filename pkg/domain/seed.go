package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/marmos91/dittostash/pkg/store/metadata"
)

// Spec declares a Domain to create or update at bootstrap.
type Spec struct {
	ID       string
	Name     string
	Parent   string
	MaxBytes int64
}

// ValidateID checks that id is usable as a Domain identifier.
//
// Identifiers are non-empty and limited to ASCII letters, digits, '-', '_'
// and '.', which keeps them safe inside store keys and URLs.
func ValidateID(id string) error {
	if id == "" {
		return metadata.NewInvalidArgumentError("domain id is required")
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return metadata.NewInvalidArgumentError(fmt.Sprintf("domain id %q contains invalid character %q", id, r))
		}
	}
	return nil
}

// Seed creates or updates the declared Domains in one transaction.
//
// Existing Domains keep their CurrentSize; Name, Parent and MaxBytes are
// replaced by the declaration. Domains present in the store but not declared
// are left alone. A parent must be declared in specs or already exist, and the
// resulting tree must be acyclic; otherwise nothing is written.
//
// Returns:
//   - int: Number of Domains created
//   - error: InvalidArgument for bad declarations, or store errors
func Seed(ctx context.Context, store metadata.MetadataStore, specs []Spec) (int, error) {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if err := ValidateID(s.ID); err != nil {
			return 0, err
		}
		if seen[s.ID] {
			return 0, metadata.NewInvalidArgumentError("duplicate domain id " + s.ID)
		}
		seen[s.ID] = true
		if strings.TrimSpace(s.Name) == "" {
			return 0, metadata.NewInvalidArgumentError("domain " + s.ID + " has no name")
		}
		if s.Parent == s.ID {
			return 0, metadata.NewInvalidArgumentError("domain " + s.ID + " cannot be its own parent")
		}
		if s.MaxBytes < 0 {
			return 0, metadata.NewInvalidArgumentError("domain " + s.ID + " has negative max_bytes")
		}
	}

	created := 0
	err := store.Update(ctx, func(txn metadata.Txn) error {
		created = 0
		existing, err := txn.ListDomains()
		if err != nil {
			return err
		}

		merged := make(map[string]*metadata.Domain, len(existing)+len(specs))
		for _, d := range existing {
			merged[d.ID] = d
		}

		var writes []*metadata.Domain
		for _, s := range specs {
			d, ok := merged[s.ID]
			if !ok {
				d = &metadata.Domain{ID: s.ID}
				created++
			}
			d.Name = s.Name
			d.ParentID = s.Parent
			d.MaxBytes = s.MaxBytes
			merged[s.ID] = d
			writes = append(writes, d)
		}

		all := make([]*metadata.Domain, 0, len(merged))
		for _, d := range merged {
			all = append(all, d)
		}
		if _, err := build(all); err != nil {
			return metadata.NewInvalidArgumentError(err.Error())
		}

		for _, d := range writes {
			if err := txn.PutDomain(d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}
