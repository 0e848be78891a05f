package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults returns the configuration used where a file is silent.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{
					"Authorization", "Content-Type",
					"X-Correlation-Id", "X-Device-Id", "X-Inbox-Mode", "X-Timezone",
				},
				MaxAge: 86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: time.Hour,
			Algorithms:   []string{"RS256"},
			ClaimPaths:   map[string]string{"subject_id": "sub", "email": "email", "roles": "roles"},
		},
		Actions: ActionsConfig{Directories: []string{"/etc/triage/actions"}},
		Modals: ModalsConfig{
			Source:    "file",
			Directory: "/etc/triage/modals",
			Redis:     RedisSourceConfig{AddrEnv: "TRIAGE_REDIS_ADDR", Prefix: "triage:modal:"},
		},
		Router: RouterConfig{
			DeepLinkSchemes: []string{"triage", "mailto", "tel"},
			Placeholders:    true,
		},
		Dispatcher: DispatcherConfig{
			Timeout: 20 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Specs:      SpecsConfig{Directory: "/etc/triage/specs"},
		Capability: CapabilityConfig{Cache: CacheConfig{TTL: 5 * time.Minute, MaxEntries: 10000}},
		History: HistoryConfig{
			Driver:          "memory",
			DSNEnv:          "TRIAGE_HISTORY_DSN",
			MaxEntries:      10000,
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing:  TracingConfig{Exporter: "otlp", SamplingRate: 0.1},
			Metrics:  MetricsConfig{Enabled: true, Path: "/metrics"},
		},
	}
}

// Load reads the YAML file at path over Defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			o.apply(cfg, v)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// envOverrides are the TRIAGE_* variables honoured by Load. Values that do
// not parse leave the file setting alone.
var envOverrides = []struct {
	name  string
	apply func(*Config, string)
}{
	{"TRIAGE_SERVER_PORT", func(c *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}},
	{"TRIAGE_IDENTITY_ISSUER", func(c *Config, v string) { c.Identity.Issuer = v }},
	{"TRIAGE_IDENTITY_JWKS_URL", func(c *Config, v string) { c.Identity.JWKSURL = v }},
	{"TRIAGE_IDENTITY_AUDIENCE", func(c *Config, v string) { c.Identity.Audience = v }},
	{"TRIAGE_OBSERVABILITY_LOG_LEVEL", func(c *Config, v string) { c.Observability.LogLevel = v }},
	{"TRIAGE_MODALS_SOURCE", func(c *Config, v string) { c.Modals.Source = v }},
	{"TRIAGE_MODALS_DIRECTORY", func(c *Config, v string) { c.Modals.Directory = v }},
	{"TRIAGE_MODALS_S3_BUCKET", func(c *Config, v string) { c.Modals.S3.Bucket = v }},
	{"TRIAGE_HISTORY_DRIVER", func(c *Config, v string) { c.History.Driver = v }},
	{"TRIAGE_HISTORY_PATH", func(c *Config, v string) { c.History.Path = v }},
	{"TRIAGE_DISPATCHER_TIMEOUT", func(c *Config, v string) {
		if d, err := time.ParseDuration(v); err == nil {
			c.Dispatcher.Timeout = d
		}
	}},
}

// ServiceSettings returns the settings for the named service, taking any
// section it leaves unset from the dispatcher defaults.
func (c *Config) ServiceSettings(name string) ServiceConfig {
	svc := c.Services[name]
	if svc.Timeout <= 0 {
		svc.Timeout = c.Dispatcher.Timeout
	}
	if svc.RateLimit.RPS <= 0 {
		svc.RateLimit = c.Dispatcher.RateLimit
	}
	if svc.CircuitBreaker.FailureThreshold <= 0 {
		svc.CircuitBreaker = c.Dispatcher.CircuitBreaker
	}
	return svc
}

// Validate reports every problem at once, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		fail("server.port %d is outside 1-65535", c.Server.Port)
	}
	for key, val := range map[string]string{
		"identity.issuer":   c.Identity.Issuer,
		"identity.jwks_url": c.Identity.JWKSURL,
		"identity.audience": c.Identity.Audience,
	} {
		if val == "" {
			fail("%s is required", key)
		}
	}

	switch m := c.Modals; m.Source {
	case "file":
		if m.Directory == "" {
			fail("modals.directory is required for the file source")
		}
	case "redis":
		if m.Redis.AddrEnv == "" {
			fail("modals.redis.addr_env is required for the redis source")
		}
	case "s3":
		if m.S3.Bucket == "" {
			fail("modals.s3.bucket is required for the s3 source")
		}
	default:
		fail("modals.source %q is not file, redis or s3", m.Source)
	}
	if c.Modals.HotReload && c.Modals.Source != "file" {
		fail("modals.hot_reload only works with the file source")
	}

	if c.Dispatcher.Timeout <= 0 {
		fail("dispatcher.timeout must be positive")
	}

	if h := c.History; h.Enabled {
		switch h.Driver {
		case "memory":
		case "postgres":
			if h.DSNEnv == "" {
				fail("history.dsn_env is required for the postgres driver")
			}
		case "sqlite":
			if h.Path == "" {
				fail("history.path is required for the sqlite driver")
			}
		default:
			fail("history.driver %q is not memory, postgres or sqlite", h.Driver)
		}
	}

	return errors.Join(errs...)
}
