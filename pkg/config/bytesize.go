package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// ByteSize is a byte count that config files may write as an integer or as a
// human readable size ("500MB", "10GiB", "1.5 TB").
type ByteSize int64

// ParseByteSize parses an integer or a human readable size.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("invalid byte size %q: must not be negative", s)
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// Int64 returns the size in bytes.
func (b ByteSize) Int64() int64 { return int64(b) }

// String formats the size with binary units, e.g. "10 GiB".
func (b ByteSize) String() string {
	if b < 0 {
		return fmt.Sprintf("%d B", int64(b))
	}
	return humanize.IBytes(uint64(b))
}

// MarshalYAML writes the human readable form.
func (b ByteSize) MarshalYAML() (any, error) {
	if b == 0 {
		return 0, nil
	}
	return b.String(), nil
}

// UnmarshalYAML accepts an integer or a human readable size.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseByteSize(node.Value)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// JSONSchema describes both accepted forms.
func (ByteSize) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "integer", Minimum: "0"},
			{Type: "string", Pattern: `^\s*[0-9.]+\s*[A-Za-z]*\s*$`},
		},
		Description: "Byte count, as an integer or a size such as 500MB or 10GiB",
	}
}

// byteSizeHook decodes strings into ByteSize.
func byteSizeHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(ByteSize(0))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != target || from.Kind() != reflect.String {
			return data, nil
		}
		return ParseByteSize(reflect.ValueOf(data).String())
	}
}
