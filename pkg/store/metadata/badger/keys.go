package badger

import (
	"github.com/google/uuid"
)

// Database Key Namespace Design
// ==============================
//
// BadgerDB is a key-value store, so prefixed keys organize the record types
// into logical namespaces:
//
// Data Type          Prefix   Key Format                        Value
// ======================================================================
// Domain             "d:"     d:<domainID>                      Domain (JSON)
// Resource           "r:"     r:<uuid>                          Resource (JSON)
// Domain membership  "i:"     i:<domainID>\x00<uuid>            empty
//
// Key Design Rationale:
//
// 1. Domain (d:)
//    - One entry per Domain, point lookup by identifier
//    - Listing all Domains is a prefix scan over "d:"
//
// 2. Resource (r:)
//    - One entry per Resource, point lookup by UUID: O(1)
//    - UUID is the stable identity used to re-resolve records across views
//
// 3. Domain membership (i:)
//    - Denormalized secondary index so all Resources of a Domain can be found
//      with a prefix scan instead of a full "r:" scan
//    - The NUL separator cannot appear in a Domain identifier (enforced by
//      configuration validation), so "i:a\x00" never matches Domain "ab"
//    - Written and deleted in the same transaction as the "r:" record

const (
	// prefixDomain is the key prefix for Domain records
	prefixDomain = "d:"

	// prefixResource is the key prefix for Resource records
	prefixResource = "r:"

	// prefixMembership is the key prefix for the domain → resource index
	prefixMembership = "i:"

	membershipSeparator = "\x00"
)

// keyDomain generates the key for a Domain record.
//
// Format: "d:<domainID>"
func keyDomain(id string) []byte {
	return []byte(prefixDomain + id)
}

// keyResource generates the key for a Resource record.
//
// Format: "r:<uuid>"
// Example: "r:550e8400-e29b-41d4-a716-446655440000"
func keyResource(id uuid.UUID) []byte {
	return []byte(prefixResource + id.String())
}

// keyMembership generates the index key linking a Resource to its Domain.
//
// Format: "i:<domainID>\x00<uuid>"
func keyMembership(domainID string, id uuid.UUID) []byte {
	return []byte(prefixMembership + domainID + membershipSeparator + id.String())
}

// keyMembershipPrefix generates the prefix used to scan a Domain's Resources.
//
// Format: "i:<domainID>\x00"
func keyMembershipPrefix(domainID string) []byte {
	return []byte(prefixMembership + domainID + membershipSeparator)
}

// uuidFromMembershipKey extracts the Resource UUID from a membership key.
func uuidFromMembershipKey(key []byte, prefixLen int) (uuid.UUID, error) {
	return uuid.ParseBytes(key[prefixLen:])
}
