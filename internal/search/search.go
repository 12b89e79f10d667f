// Package search implements the fan-out orchestrator: one query goes to
// every enabled backend concurrently, partial failures degrade the result
// instead of failing it, and successful results are cached by normalized
// term.
package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"github.com/sells-group/people-lookup/internal/backend"
	"github.com/sells-group/people-lookup/internal/cache"
	"github.com/sells-group/people-lookup/internal/merge"
	"github.com/sells-group/people-lookup/internal/metrics"
	"github.com/sells-group/people-lookup/internal/model"
	"github.com/sells-group/people-lookup/internal/resilience"
)

// DefaultBackendTimeout bounds each backend call independently, so one
// slow system cannot stall the whole search.
const DefaultBackendTimeout = 10 * time.Second

// DefaultMinTermLength is the substring-search minimum. Email terms are
// exact lookups and exempt.
const DefaultMinTermLength = 3

// BackendFailure describes one backend that could not contribute to a
// degraded result.
type BackendFailure struct {
	Backend model.Backend       `json:"backend"`
	Kind    backend.FailureKind `json:"kind"`
	Message string              `json:"message"`
}

// Result is the outcome of one search: merged profiles plus the failures
// of any backends that did not answer.
type Result struct {
	Query     string                 `json:"query"`
	Profiles  []model.UnifiedProfile `json:"profiles"`
	Failures  []BackendFailure       `json:"failures,omitempty"`
	FromCache bool                   `json:"from_cache"`
}

// AllBackendsFailedError is returned when no backend produced a result.
// It carries every per-backend failure so the caller can report all of
// them, not just the first.
type AllBackendsFailedError struct {
	Failures []BackendFailure
}

func (e *AllBackendsFailedError) Error() string {
	var b strings.Builder
	b.WriteString("all backends failed")
	for _, f := range e.Failures {
		b.WriteString("; ")
		b.WriteString(string(f.Backend))
		b.WriteString(": ")
		b.WriteString(string(f.Kind))
		b.WriteString(": ")
		b.WriteString(f.Message)
	}
	return b.String()
}

// Config controls orchestration parameters.
type Config struct {
	// BackendTimeout is the per-backend time budget. Default: 10s.
	BackendTimeout time.Duration
	// MinTermLength is the substring minimum. Default: 3.
	MinTermLength int
}

func (c Config) withDefaults() Config {
	if c.BackendTimeout <= 0 {
		c.BackendTimeout = DefaultBackendTimeout
	}
	if c.MinTermLength <= 0 {
		c.MinTermLength = DefaultMinTermLength
	}
	return c
}

// Orchestrator coordinates adapters, merge, cache, and per-backend
// circuit breakers for the search operation.
type Orchestrator struct {
	cfg      Config
	adapters []backend.Adapter
	merger   *merge.Merger
	cache    *cache.Cache[Result]
	breakers *resilience.BackendBreakers
	met      *metrics.Metrics
}

// New creates an orchestrator over the given adapters. cache, breakers,
// and met may be nil; a nil cache disables caching.
func New(cfg Config, adapters []backend.Adapter, merger *merge.Merger, c *cache.Cache[Result], breakers *resilience.BackendBreakers, met *metrics.Metrics) *Orchestrator {
	if breakers == nil {
		breakers = resilience.NewBackendBreakers(resilience.CircuitBreakerConfig{})
	}
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		adapters: adapters,
		merger:   merger,
		cache:    c,
		breakers: breakers,
		met:      met,
	}
}

// NormalizeTerm canonicalizes a raw query term: whitespace is trimmed and
// collapsed and the term is case-folded, so "John  Doe " and "john doe"
// share one cache entry.
func NormalizeTerm(term string) string {
	return strings.Join(strings.Fields(cases.Fold().String(term)), " ")
}

// Search runs one search for term. The term is normalized, validated,
// then served from cache or fanned out to every backend concurrently.
// A degraded result (some backends failed) is still a success; only a
// full wipe-out returns *AllBackendsFailedError.
func (o *Orchestrator) Search(ctx context.Context, term string) (Result, error) {
	q := NormalizeTerm(term)
	if err := o.checkTerm(q); err != nil {
		o.countSearch("invalid")
		return Result{}, err
	}

	var res Result
	var fromCache bool
	var err error
	if o.cache != nil {
		res, fromCache, err = o.cache.GetOrCompute(ctx, q, func(ctx context.Context) (Result, error) {
			return o.fanOut(ctx, q)
		})
	} else {
		res, err = o.fanOut(ctx, q)
	}
	if err != nil {
		o.countSearch("failed")
		return Result{}, err
	}

	res.FromCache = fromCache
	if len(res.Failures) > 0 {
		o.countSearch("degraded")
	} else {
		o.countSearch("ok")
	}
	return res, nil
}

// Invalidate drops the cached result for term, if any.
func (o *Orchestrator) Invalidate(term string) {
	if o.cache != nil {
		o.cache.Invalidate(NormalizeTerm(term))
	}
}

// checkTerm enforces the shared length policy. Email terms are exact
// lookups, so the substring minimum does not apply.
func (o *Orchestrator) checkTerm(q string) error {
	min := o.cfg.MinTermLength
	if backend.IsEmailTerm(q) {
		min = 1
	}
	return backend.CheckTerm(q, min)
}

type backendOutcome struct {
	records []model.PersonRecord
	failure *BackendFailure
}

// fanOut queries every adapter concurrently under its own timeout and
// merges whatever succeeded.
func (o *Orchestrator) fanOut(ctx context.Context, q string) (Result, error) {
	correlationID := uuid.NewString()
	log := zap.L().With(
		zap.String("correlation_id", correlationID),
		zap.String("query", q),
	)
	log.Info("search started", zap.Int("backends", len(o.adapters)))

	outcomes := make([]backendOutcome, len(o.adapters))
	var g errgroup.Group
	for i, ad := range o.adapters {
		g.Go(func() error {
			outcomes[i] = o.queryBackend(ctx, log, ad, q)
			return nil
		})
	}
	_ = g.Wait()

	var all []model.PersonRecord
	var failures []BackendFailure
	for _, out := range outcomes {
		if out.failure != nil {
			failures = append(failures, *out.failure)
			continue
		}
		all = append(all, out.records...)
	}
	sort.Slice(failures, func(i, j int) bool {
		return failures[i].Backend.Rank() < failures[j].Backend.Rank()
	})

	if len(o.adapters) > 0 && len(failures) == len(o.adapters) {
		log.Error("search failed on every backend", zap.Int("backends", len(o.adapters)))
		return Result{}, &AllBackendsFailedError{Failures: failures}
	}

	profiles := o.merger.Merge(all)
	log.Info("search completed",
		zap.Int("profiles", len(profiles)),
		zap.Int("failed_backends", len(failures)),
	)
	return Result{Query: q, Profiles: profiles, Failures: failures}, nil
}

func (o *Orchestrator) queryBackend(ctx context.Context, log *zap.Logger, ad backend.Adapter, q string) backendOutcome {
	name := ad.Name()
	bctx, cancel := context.WithTimeout(ctx, o.cfg.BackendTimeout)
	defer cancel()

	start := time.Now()
	cb := o.breakers.Get(string(name))
	records, err := resilience.ExecuteVal(bctx, cb, func(ctx context.Context) ([]model.PersonRecord, error) {
		return ad.Search(ctx, q)
	})
	elapsed := time.Since(start)
	if err != nil {
		be := backend.Classify(name, err)
		if o.met != nil {
			o.met.BackendFailures.WithLabelValues(string(name), string(be.Kind)).Inc()
		}
		log.Warn("backend search failed",
			zap.String("backend", string(name)),
			zap.String("kind", string(be.Kind)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return backendOutcome{failure: &BackendFailure{
			Backend: name,
			Kind:    be.Kind,
			Message: be.Err.Error(),
		}}
	}

	log.Debug("backend search completed",
		zap.String("backend", string(name)),
		zap.Int("records", len(records)),
		zap.Duration("elapsed", elapsed),
	)
	return backendOutcome{records: records}
}

func (o *Orchestrator) countSearch(outcome string) {
	if o.met != nil {
		o.met.Searches.WithLabelValues(outcome).Inc()
	}
}
