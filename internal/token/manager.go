package token

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/people-lookup/internal/metrics"
)

// ErrTokenUnavailable is returned when no valid token is held and the
// refresh exchange failed. Adapters surface this as an auth failure.
var ErrTokenUnavailable = eris.New("token unavailable")

// Exchanger performs the credential exchange for one service.
type Exchanger interface {
	Service() string
	Exchange(ctx context.Context) (Token, error)
}

// ManagerConfig controls validity buffer and the proactive refresh cycle.
type ManagerConfig struct {
	// Buffer is the validity safety margin. Default: 30s.
	Buffer time.Duration
	// RefreshThreshold triggers a proactive refresh when a token's
	// remaining lifetime drops below it. Default: 10m.
	RefreshThreshold time.Duration
	// Interval is the background refresh cycle period. Default: 5m.
	Interval time.Duration
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
	if c.RefreshThreshold <= 0 {
		c.RefreshThreshold = 10 * time.Minute
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	return c
}

// Manager holds one live token per registered service. Stored tokens are
// swapped whole under a write lock; readers take the read lock, so a
// reader observes either the fully-old or fully-new token.
type Manager struct {
	cfg        ManagerConfig
	exchangers map[string]Exchanger
	met        *metrics.Metrics

	mu     sync.RWMutex
	tokens map[string]Token

	refresh singleflight.Group

	nowFunc func() time.Time
}

// NewManager creates a Manager over the given exchangers.
func NewManager(cfg ManagerConfig, exchangers []Exchanger, met *metrics.Metrics) *Manager {
	m := &Manager{
		cfg:        cfg.withDefaults(),
		exchangers: make(map[string]Exchanger, len(exchangers)),
		met:        met,
		tokens:     make(map[string]Token, len(exchangers)),
		nowFunc:    time.Now,
	}
	for _, ex := range exchangers {
		m.exchangers[ex.Service()] = ex
	}
	return m
}

// GetValidToken returns a token value guaranteed valid for at least the
// configured buffer, refreshing inline if needed. It fails with
// ErrTokenUnavailable when no valid token can be obtained.
func (m *Manager) GetValidToken(ctx context.Context, service string) (string, error) {
	if tok, ok := m.current(service); ok {
		return tok.Value, nil
	}

	if err := m.doRefresh(ctx, service); err != nil {
		return "", err
	}

	tok, ok := m.current(service)
	if !ok {
		return "", eris.Wrapf(ErrTokenUnavailable, "%s: refreshed token already expired", service)
	}
	return tok.Value, nil
}

// ForceRefresh discards the stored token for service and performs a fresh
// exchange. Adapters call this once after a 401 before retrying.
func (m *Manager) ForceRefresh(ctx context.Context, service string) error {
	m.mu.Lock()
	delete(m.tokens, service)
	m.mu.Unlock()
	return m.doRefresh(ctx, service)
}

// Run executes the background refresh cycle until ctx is cancelled. For
// each managed service whose token lifetime has dropped below the refresh
// threshold it performs an exchange; failures are logged and retried on
// the next cycle, never propagated.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.refreshCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refreshCycle(ctx)
		}
	}
}

// Status returns a snapshot of every managed token, sorted by service.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.nowFunc()
	out := make([]Status, 0, len(m.exchangers))
	for service := range m.exchangers {
		tok := m.tokens[service]
		out = append(out, Status{
			Service:    service,
			ObtainedAt: tok.ObtainedAt,
			ExpiresAt:  tok.ExpiresAt,
			Valid:      !tok.ExpiredAt(now, m.cfg.Buffer),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

func (m *Manager) current(service string) (Token, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.tokens[service]
	if !ok || tok.ExpiredAt(m.nowFunc(), m.cfg.Buffer) {
		return Token{}, false
	}
	return tok, true
}

// doRefresh performs one exchange for service, de-duplicated so that
// concurrent callers share a single in-flight exchange.
func (m *Manager) doRefresh(ctx context.Context, service string) error {
	ex, ok := m.exchangers[service]
	if !ok {
		return eris.Wrapf(ErrTokenUnavailable, "%s: no exchanger registered", service)
	}

	_, err, _ := m.refresh.Do(service, func() (any, error) {
		tok, err := ex.Exchange(ctx)
		if err != nil {
			if m.met != nil {
				m.met.TokenRefreshes.WithLabelValues(service, "error").Inc()
			}
			return nil, eris.Wrapf(ErrTokenUnavailable, "%s: exchange failed: %v", service, err)
		}

		m.mu.Lock()
		m.tokens[service] = tok
		m.mu.Unlock()

		if m.met != nil {
			m.met.TokenRefreshes.WithLabelValues(service, "ok").Inc()
		}
		zap.L().Info("token refreshed",
			zap.String("service", service),
			zap.Time("expires_at", tok.ExpiresAt),
		)
		return nil, nil
	})
	return err
}

func (m *Manager) refreshCycle(ctx context.Context) {
	now := m.nowFunc()

	m.mu.RLock()
	stale := make([]string, 0, len(m.exchangers))
	for service := range m.exchangers {
		tok := m.tokens[service]
		if tok.Value == "" || tok.ExpiresAt.Sub(now) < m.cfg.RefreshThreshold {
			stale = append(stale, service)
		}
	}
	m.mu.RUnlock()

	for _, service := range stale {
		if ctx.Err() != nil {
			return
		}
		if err := m.doRefresh(ctx, service); err != nil {
			zap.L().Warn("proactive token refresh failed",
				zap.String("service", service),
				zap.Error(err),
			)
		}
	}
}
