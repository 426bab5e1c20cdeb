package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// sectionComments documents each top-level section of a generated file.
var sectionComments = map[string]string{
	"logging":   "Logging: level (DEBUG, INFO, WARN, ERROR), format (text, json),\noutput (stdout, stderr or a file path, rotated by size)",
	"server":    "Process settings",
	"storage":   "Storage root: Resource files live in <root>/Storage and the badger index in\n<root>/metadata.db. max_bytes 0 derives the quota from the free disk space\nminus reserve_bytes. Sizes accept integers or units (500MB, 10GiB).",
	"metadata":  "Metadata store: badger (persistent) or memory (lost on exit)",
	"eviction":  "Eviction order when the quota is reached: priority, lru or smallest",
	"domains":   "Domains form the directory tree Resources are stored in. A domain may\ndeclare its own max_bytes quota.",
	"manager":   "Resource manager queue; queue_size 0 is unbounded",
	"reconcile": "Reconciliation of the index with the storage tree. interval 0 disables\nperiodic passes.",
	"metrics":   "Prometheus metrics endpoint",
	"api":       "HTTP API; requests_per_second 0 disables rate limiting",
}

// InitConfig writes the default configuration to the default location.
//
// Parameters:
//   - force: Overwrite an existing file
//
// Returns:
//   - string: Path of the written file
//   - error: If the file exists and force is false, or writing fails
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the default configuration to path, creating parent
// directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a comment above each
// top-level section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var root yaml.Node
	if err := root.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	// Mapping nodes alternate key and value.
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	doc := yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{&root}}
	doc.HeadComment = "DittoStash Configuration File\n\nGenerated with `dittostash init`. Environment variables override any\nvalue, e.g. DITTOSTASH_LOGGING_LEVEL=DEBUG."

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
