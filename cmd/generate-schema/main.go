// generate-schema writes the JSON schema of the dittostash configuration file.
//
// Editors use the schema to complete and validate dittostash.yaml. Keys follow
// the mapstructure tags that viper decodes, byte counts accept sizes such as
// "10GiB" and durations are written like "30s".
//
// Usage:
//
//	go run ./cmd/generate-schema [output]    (default: config.schema.json)
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/dittostash/pkg/config"
)

func main() {
	outputFile := "config.schema.json"
	if len(os.Args) > 1 {
		outputFile = os.Args[1]
	}

	schemaJSON, err := generate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling schema: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outputFile, schemaJSON, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing schema file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("JSON schema written to %s\n", outputFile)
}

// generate reflects config.Config into an indented schema document.
func generate() ([]byte, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "mapstructure",
		Mapper:                    mapType,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "DittoStash Configuration"
	schema.Description = "Storage root, quotas, domains, eviction and API settings of the DittoStash resource store"
	schema.Version = "1.0.0"

	return json.MarshalIndent(schema, "", "  ")
}

// mapType overrides types whose YAML form differs from their Go kind.
func mapType(t reflect.Type) *jsonschema.Schema {
	if t == reflect.TypeOf(time.Duration(0)) {
		return &jsonschema.Schema{
			Type:        "string",
			Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
			Description: "Duration such as 30s, 5m or 1h30m",
		}
	}
	return nil
}
