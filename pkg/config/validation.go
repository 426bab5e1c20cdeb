package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/dittostash/pkg/domain"
	"github.com/marmos91/dittostash/pkg/eviction"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if _, err := eviction.ByName(cfg.Eviction.Policy); err != nil {
		return fmt.Errorf("eviction.policy: %w", err)
	}
	if err := validateStagingDir(&cfg.Storage); err != nil {
		return err
	}

	return validateDomains(cfg.Domains)
}

// validateStagingDir rejects a staging directory inside the content root,
// where staged files would be mistaken for orphans.
func validateStagingDir(cfg *StorageConfig) error {
	rel, err := filepath.Rel(cfg.ContentRoot(), cfg.StagingPath())
	if err != nil {
		return nil
	}
	if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("storage.staging_dir: %s must not be inside %s", cfg.StagingPath(), cfg.ContentRoot())
	}
	return nil
}

// validateDomains checks that ids are valid and unique, that every parent is
// declared, and that the parent links form a tree.
func validateDomains(domains []DomainConfig) error {
	byID := make(map[string]DomainConfig, len(domains))
	for i, d := range domains {
		if err := domain.ValidateID(d.ID); err != nil {
			return fmt.Errorf("domains[%d]: %w", i, err)
		}
		if _, dup := byID[d.ID]; dup {
			return fmt.Errorf("domains[%d]: duplicate domain id %q", i, d.ID)
		}
		byID[d.ID] = d
	}

	for i, d := range domains {
		if d.Parent == "" {
			continue
		}
		if d.Parent == d.ID {
			return fmt.Errorf("domains[%d]: domain %q cannot be its own parent", i, d.ID)
		}
		if _, ok := byID[d.Parent]; !ok {
			return fmt.Errorf("domains[%d]: parent %q of domain %q is not declared", i, d.Parent, d.ID)
		}
	}

	for _, d := range domains {
		seen := map[string]bool{}
		for cur := d.ID; cur != ""; cur = byID[cur].Parent {
			if seen[cur] {
				return fmt.Errorf("domains: parent cycle through %q", cur)
			}
			seen[cur] = true
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
