// Package backend defines the uniform adapter contract implemented by the
// directory, cloud-identity, and contact-center adapters, plus the typed
// failure taxonomy the orchestrator reports per backend.
package backend

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/people-lookup/internal/model"
)

// MaxTermLength bounds resource use per query across all adapters.
const MaxTermLength = 256

// Adapter is the uniform search capability over one backend system.
type Adapter interface {
	// Name identifies the backend for provenance and failure reporting.
	Name() model.Backend

	// Search returns partial person records matching term. On failure it
	// returns an *Error carrying the failure kind.
	Search(ctx context.Context, term string) ([]model.PersonRecord, error)

	// MinTermLength is the shortest term this adapter accepts. Substring
	// matching backends require 3; exact-match lookups require none.
	MinTermLength() int
}

// CheckTerm enforces the shared length policy for an adapter. Terms under
// min or over MaxTermLength are rejected as invalid before any network use.
func CheckTerm(term string, min int) error {
	if len(term) < min {
		return eris.Wrapf(ErrInvalidQuery, "term shorter than %d characters", min)
	}
	if len(term) > MaxTermLength {
		return eris.Wrapf(ErrInvalidQuery, "term longer than %d characters", MaxTermLength)
	}
	return nil
}

// IsEmailTerm reports whether term looks like an exact email lookup, which
// exempts it from the substring minimum-length policy.
func IsEmailTerm(term string) bool {
	at := strings.Index(term, "@")
	return at > 0 && at < len(term)-1 && !strings.Contains(term[at+1:], "@")
}
