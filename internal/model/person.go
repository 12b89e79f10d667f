// Package model contains the core domain types shared by the backend
// adapters, the merger, and the search orchestrator.
package model

import "strings"

// Backend identifies one of the queried source systems.
type Backend string

const (
	BackendDirectory     Backend = "directory"
	BackendCloudIdentity Backend = "cloudid"
	BackendContactCenter Backend = "contactcenter"
)

// Rank orders backends for deterministic iteration. Lower is earlier.
// The merge priority table is the authority for field resolution; Rank
// only fixes tie-breaking and output ordering.
func (b Backend) Rank() int {
	switch b {
	case BackendCloudIdentity:
		return 0
	case BackendDirectory:
		return 1
	case BackendContactCenter:
		return 2
	default:
		return 3
	}
}

// Well-known field keys produced by the adapters. Adapters may emit
// additional keys; the merger resolves any key present in a fragment.
const (
	FieldDisplayName = "display_name"
	FieldGivenName   = "given_name"
	FieldSurname     = "surname"
	FieldEmail       = "email"
	FieldTitle       = "title"
	FieldDepartment  = "department"
	FieldLocation    = "location"
	FieldManager     = "manager"
	FieldAvatarURL   = "avatar_url"
	FieldAgentID     = "agent_id"
	FieldQueues      = "queues"
	FieldSkills      = "skills"
)

// FieldValue is a single field as reported by one backend.
type FieldValue struct {
	Value  string  `json:"value"`
	Source Backend `json:"source"`
}

// PersonRecord is a backend-tagged partial view of one person. Records are
// immutable once an adapter returns them; the merger never mutates them.
type PersonRecord struct {
	SourceID    string                `json:"source_id"`
	Backend     Backend               `json:"backend"`
	IdentityKey string                `json:"identity_key"`
	Fields      map[string]FieldValue `json:"fields"`
	Phones      []RawPhone            `json:"phones,omitempty"`
}

// RawPhone is an unnormalized phone number as reported by one backend,
// tagged with the directory-style attribute it came from.
type RawPhone struct {
	Raw       string  `json:"raw"`
	Attribute string  `json:"attribute"`
	Source    Backend `json:"source"`
}

// ResolvedField is a merged field value with full provenance: the backend
// whose value won plus every backend that reported the field.
type ResolvedField struct {
	Value        string    `json:"value"`
	Source       Backend   `json:"source"`
	Contributors []Backend `json:"contributors"`
}

// UnifiedProfile is the merged view of one person across all backends
// that returned a fragment for the same identity key.
type UnifiedProfile struct {
	IdentityKey string                   `json:"identity_key"`
	Fields      map[string]ResolvedField `json:"fields"`
	Phones      []PhoneNumber            `json:"phones"`
	Sources     []Backend                `json:"sources"`
}

// IdentityKeyFrom derives the correlation key used to group fragments
// across backends from a principal name or email address. The result is
// lower-cased and trimmed; it is empty only for blank input, and adapters
// must drop records they cannot key.
func IdentityKeyFrom(principal string) string {
	return strings.ToLower(strings.TrimSpace(principal))
}
