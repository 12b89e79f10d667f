package main

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/people-lookup/internal/backend"
	"github.com/sells-group/people-lookup/internal/backend/cloudid"
	"github.com/sells-group/people-lookup/internal/backend/contactcenter"
	"github.com/sells-group/people-lookup/internal/backend/directory"
	"github.com/sells-group/people-lookup/internal/cache"
	"github.com/sells-group/people-lookup/internal/merge"
	"github.com/sells-group/people-lookup/internal/metrics"
	"github.com/sells-group/people-lookup/internal/resilience"
	"github.com/sells-group/people-lookup/internal/search"
	"github.com/sells-group/people-lookup/internal/token"
)

// appMetrics is built once per process; the prometheus default registry
// rejects duplicate registration.
var (
	metricsOnce sync.Once
	appMet      *metrics.Metrics
)

func appMetrics() *metrics.Metrics {
	metricsOnce.Do(func() { appMet = metrics.New() })
	return appMet
}

// lookupEnv holds the initialized adapters, token manager, cache, and
// orchestrator needed by the search/serve commands.
type lookupEnv struct {
	Orchestrator *search.Orchestrator
	Tokens       *token.Manager
	Cache        *cache.Cache[search.Result]
	Breakers     *resilience.BackendBreakers
	Metrics      *metrics.Metrics
	Backends     []string

	cancel context.CancelFunc
}

// Close stops the background token refresh and cache sweep.
func (le *lookupEnv) Close() {
	if le.cancel != nil {
		le.cancel()
	}
}

// initLookup validates config for mode, builds every enabled adapter, and
// wires the orchestrator. Callers should defer env.Close().
func initLookup(ctx context.Context, mode string) (*lookupEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	met := appMetrics()

	var exchangers []token.Exchanger
	if cfg.CloudID.Enabled {
		exchangers = append(exchangers, token.NewOAuthExchanger(token.OAuthConfig{
			Service:      cloudid.ServiceName,
			TokenURL:     cfg.CloudID.OAuth.TokenURL,
			ClientID:     cfg.CloudID.OAuth.ClientID,
			ClientSecret: cfg.CloudID.OAuth.ClientSecret,
			Scope:        cfg.CloudID.OAuth.Scope,
		}))
	}
	if cfg.ContactCenter.Enabled {
		exchangers = append(exchangers, token.NewOAuthExchanger(token.OAuthConfig{
			Service:      contactcenter.ServiceName,
			TokenURL:     cfg.ContactCenter.OAuth.TokenURL,
			ClientID:     cfg.ContactCenter.OAuth.ClientID,
			ClientSecret: cfg.ContactCenter.OAuth.ClientSecret,
			Scope:        cfg.ContactCenter.OAuth.Scope,
		}))
	}
	tokens := token.NewManager(token.ManagerConfig{
		Buffer:           cfg.Token.Buffer(),
		RefreshThreshold: cfg.Token.RefreshThreshold(),
		Interval:         cfg.Token.Interval(),
	}, exchangers, met)

	var adapters []backend.Adapter
	if cfg.Directory.Enabled {
		adapters = append(adapters, directory.New(directory.Config{
			URL:          cfg.Directory.URL,
			BindDN:       cfg.Directory.BindDN,
			BindPassword: cfg.Directory.BindPassword,
			BaseDN:       cfg.Directory.BaseDN,
			Timeout:      cfg.Directory.Timeout(),
			SizeLimit:    cfg.Directory.SizeLimit,
		}))
	}
	if cfg.CloudID.Enabled {
		adapters = append(adapters, cloudid.New(cfg.CloudID.BaseURL, tokens))
	}
	if cfg.ContactCenter.Enabled {
		adapters = append(adapters, contactcenter.New(cfg.ContactCenter.BaseURL, tokens,
			contactcenter.WithRateLimit(cfg.ContactCenter.RequestsPerSec)))
	}

	prio := merge.DefaultPriority()
	if cfg.Merge.PriorityFile != "" {
		loaded, err := merge.LoadPriority(cfg.Merge.PriorityFile)
		if err != nil {
			return nil, err
		}
		prio = loaded
		zap.L().Info("field priority table loaded", zap.String("path", cfg.Merge.PriorityFile))
	}

	resultCache := cache.New[search.Result](cfg.Cache.TTL(), met)
	breakers := resilience.NewBackendBreakers(resilience.CircuitBreakerConfig{
		ShouldTrip: func(err error) bool { return !backend.IsAuthFailure(err) },
	})

	orch := search.New(search.Config{
		BackendTimeout: cfg.Search.BackendTimeout(),
		MinTermLength:  cfg.Search.MinTermLength,
	}, adapters, merge.New(prio), resultCache, breakers, met)

	bctx, cancel := context.WithCancel(ctx)
	go tokens.Run(bctx)
	go resultCache.Run(bctx, cfg.Cache.SweepEvery())

	names := make([]string, 0, len(adapters))
	for _, ad := range adapters {
		names = append(names, string(ad.Name()))
	}
	zap.L().Info("lookup initialized", zap.Strings("backends", names))

	return &lookupEnv{
		Orchestrator: orch,
		Tokens:       tokens,
		Cache:        resultCache,
		Breakers:     breakers,
		Metrics:      met,
		Backends:     names,
		cancel:       cancel,
	}, nil
}
