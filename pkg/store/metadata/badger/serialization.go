package badger

import (
	"encoding/json"
	"fmt"

	"github.com/marmos91/dittostash/pkg/store/metadata"
)

// Serialization Strategy
// ======================
//
// Records are stored as JSON: they are small, schema evolution is easy, and
// the database stays inspectable with generic badger tooling.

func encodeDomain(d *metadata.Domain) ([]byte, error) {
	bytes, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode domain: %w", err)
	}
	return bytes, nil
}

func decodeDomain(bytes []byte) (*metadata.Domain, error) {
	var d metadata.Domain
	if err := json.Unmarshal(bytes, &d); err != nil {
		return nil, fmt.Errorf("failed to decode domain: %w", err)
	}
	return &d, nil
}

func encodeResource(r *metadata.Resource) ([]byte, error) {
	bytes, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource: %w", err)
	}
	return bytes, nil
}

func decodeResource(bytes []byte) (*metadata.Resource, error) {
	var r metadata.Resource
	if err := json.Unmarshal(bytes, &r); err != nil {
		return nil, fmt.Errorf("failed to decode resource: %w", err)
	}
	return &r, nil
}
