package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Directory     DirectoryConfig     `yaml:"directory" mapstructure:"directory"`
	CloudID       CloudIDConfig       `yaml:"cloudid" mapstructure:"cloudid"`
	ContactCenter ContactCenterConfig `yaml:"contactcenter" mapstructure:"contactcenter"`
	Search        SearchConfig        `yaml:"search" mapstructure:"search"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Token         TokenConfig         `yaml:"token" mapstructure:"token"`
	Merge         MergeConfig         `yaml:"merge" mapstructure:"merge"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// DirectoryConfig configures the LDAP directory backend.
type DirectoryConfig struct {
	Enabled      bool   `yaml:"enabled" mapstructure:"enabled"`
	URL          string `yaml:"url" mapstructure:"url"`
	BindDN       string `yaml:"bind_dn" mapstructure:"bind_dn"`
	BindPassword string `yaml:"bind_password" mapstructure:"bind_password"`
	BaseDN       string `yaml:"base_dn" mapstructure:"base_dn"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	SizeLimit    int    `yaml:"size_limit" mapstructure:"size_limit"`
}

// OAuthClientConfig holds client-credentials settings shared by the OAuth
// backends.
type OAuthClientConfig struct {
	TokenURL     string `yaml:"token_url" mapstructure:"token_url"`
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
	Scope        string `yaml:"scope" mapstructure:"scope"`
}

// CloudIDConfig configures the cloud-identity backend.
type CloudIDConfig struct {
	Enabled bool              `yaml:"enabled" mapstructure:"enabled"`
	BaseURL string            `yaml:"base_url" mapstructure:"base_url"`
	OAuth   OAuthClientConfig `yaml:"oauth" mapstructure:"oauth"`
}

// ContactCenterConfig configures the contact-center backend.
type ContactCenterConfig struct {
	Enabled        bool              `yaml:"enabled" mapstructure:"enabled"`
	BaseURL        string            `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerSec float64           `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	OAuth          OAuthClientConfig `yaml:"oauth" mapstructure:"oauth"`
}

// SearchConfig configures the fan-out orchestrator.
type SearchConfig struct {
	BackendTimeoutSecs int `yaml:"backend_timeout_secs" mapstructure:"backend_timeout_secs"`
	MinTermLength      int `yaml:"min_term_length" mapstructure:"min_term_length"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	TTLSecs       int `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	SweepInterval int `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
}

// TokenConfig configures the bearer token lifecycle.
type TokenConfig struct {
	BufferSecs           int `yaml:"buffer_secs" mapstructure:"buffer_secs"`
	RefreshThresholdSecs int `yaml:"refresh_threshold_secs" mapstructure:"refresh_threshold_secs"`
	IntervalSecs         int `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// MergeConfig configures result merging.
type MergeConfig struct {
	// PriorityFile optionally points at a YAML field-priority table. Empty
	// selects the built-in defaults.
	PriorityFile string `yaml:"priority_file" mapstructure:"priority_file"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// BackendTimeout returns the orchestrator per-backend timeout.
func (c SearchConfig) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutSecs) * time.Second
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// SweepEvery returns the cache sweep interval.
func (c CacheConfig) SweepEvery() time.Duration {
	return time.Duration(c.SweepInterval) * time.Second
}

// Buffer returns the token validity safety margin.
func (c TokenConfig) Buffer() time.Duration {
	return time.Duration(c.BufferSecs) * time.Second
}

// RefreshThreshold returns the proactive refresh threshold.
func (c TokenConfig) RefreshThreshold() time.Duration {
	return time.Duration(c.RefreshThresholdSecs) * time.Second
}

// Interval returns the background refresh cycle period.
func (c TokenConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// Timeout returns the directory operation timeout.
func (c DirectoryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Validate checks that the configuration is usable for the given run
// mode ("search" or "serve"). Every problem is reported, not just the
// first.
func (c *Config) Validate(mode string) error {
	switch mode {
	case "search", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var problems []string
	if !c.Directory.Enabled && !c.CloudID.Enabled && !c.ContactCenter.Enabled {
		problems = append(problems, "at least one backend must be enabled")
	}
	if c.Directory.Enabled {
		if c.Directory.URL == "" {
			problems = append(problems, "directory.url is required")
		}
		if c.Directory.BaseDN == "" {
			problems = append(problems, "directory.base_dn is required")
		}
	}
	if c.CloudID.Enabled {
		problems = append(problems, oauthProblems("cloudid", c.CloudID.BaseURL, c.CloudID.OAuth)...)
	}
	if c.ContactCenter.Enabled {
		problems = append(problems, oauthProblems("contactcenter", c.ContactCenter.BaseURL, c.ContactCenter.OAuth)...)
	}
	if mode == "serve" && c.Server.Port <= 0 {
		problems = append(problems, "server.port must be > 0")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func oauthProblems(section, baseURL string, o OAuthClientConfig) []string {
	var problems []string
	if baseURL == "" {
		problems = append(problems, section+".base_url is required")
	}
	if o.TokenURL == "" {
		problems = append(problems, section+".oauth.token_url is required")
	}
	if o.ClientID == "" {
		problems = append(problems, section+".oauth.client_id is required")
	}
	if o.ClientSecret == "" {
		problems = append(problems, section+".oauth.client_secret is required")
	}
	return problems
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PEOPLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("directory.enabled", true)
	v.SetDefault("directory.timeout_secs", 10)
	v.SetDefault("directory.size_limit", 50)
	v.SetDefault("cloudid.enabled", true)
	v.SetDefault("contactcenter.enabled", true)
	v.SetDefault("contactcenter.requests_per_sec", 5)
	v.SetDefault("search.backend_timeout_secs", 10)
	v.SetDefault("search.min_term_length", 3)
	v.SetDefault("cache.ttl_secs", 1800)
	v.SetDefault("cache.sweep_interval_secs", 300)
	v.SetDefault("token.buffer_secs", 30)
	v.SetDefault("token.refresh_threshold_secs", 600)
	v.SetDefault("token.interval_secs", 300)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
