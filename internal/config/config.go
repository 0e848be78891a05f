// Package config holds the triaged configuration tree. A YAML file is laid
// over Defaults, then TRIAGE_* environment variables are applied.
package config

import "time"

// Config is the whole configuration tree.
type Config struct {
	Server        ServerConfig             `yaml:"server"`
	Identity      IdentityConfig           `yaml:"identity"`
	Actions       ActionsConfig            `yaml:"actions"`
	Modals        ModalsConfig             `yaml:"modals"`
	Router        RouterConfig             `yaml:"router"`
	Dispatcher    DispatcherConfig         `yaml:"dispatcher"`
	Specs         SpecsConfig              `yaml:"specs"`
	Services      map[string]ServiceConfig `yaml:"services"`
	Capability    CapabilityConfig         `yaml:"capability"`
	History       HistoryConfig            `yaml:"history"`
	Observability ObservabilityConfig      `yaml:"observability"`
}

// ServerConfig covers the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig lists what browsers may send cross-origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig points at the token issuer. ClaimPaths may remap
// subject_id, email and roles to dotted claim paths.
type IdentityConfig struct {
	Issuer       string            `yaml:"issuer"`
	Audience     string            `yaml:"audience"`
	JWKSURL      string            `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration     `yaml:"jwks_cache_ttl"`
	Algorithms   []string          `yaml:"algorithms"`
	ClaimPaths   map[string]string `yaml:"claim_paths"`
}

// ActionsConfig locates action definition documents.
type ActionsConfig struct {
	Directories       []string `yaml:"directories"`
	VersionConstraint string   `yaml:"version_constraint"`
}

// ModalsConfig selects where modal documents come from.
type ModalsConfig struct {
	Source            string            `yaml:"source"`
	Directory         string            `yaml:"directory"`
	HotReload         bool              `yaml:"hot_reload"`
	VersionConstraint string            `yaml:"version_constraint"`
	Redis             RedisSourceConfig `yaml:"redis"`
	S3                S3SourceConfig    `yaml:"s3"`
}

// RedisSourceConfig reads modal documents from Redis keys under Prefix.
type RedisSourceConfig struct {
	AddrEnv string `yaml:"addr_env"`
	DB      int    `yaml:"db"`
	Prefix  string `yaml:"prefix"`
}

// S3SourceConfig reads modal documents from objects under Prefix.
type S3SourceConfig struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

// RouterConfig tunes how invocations are routed.
type RouterConfig struct {
	DeepLinkSchemes []string `yaml:"deep_link_schemes"`
	Placeholders    bool     `yaml:"placeholders"`
}

// DispatcherConfig holds the service-call defaults that entries in
// Config.Services override.
type DispatcherConfig struct {
	Timeout        time.Duration        `yaml:"timeout"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RateLimitConfig is a token bucket; zero RPS means unlimited.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// SpecsConfig locates the OpenAPI documents of remote services.
type SpecsConfig struct {
	Directory string       `yaml:"directory"`
	Sources   []SpecSource `yaml:"sources"`
}

// SpecSource binds a service name to its OpenAPI document.
type SpecSource struct {
	Service  string `yaml:"service"`
	SpecFile string `yaml:"spec_file"`
}

// ServiceConfig tunes calls to one service.
type ServiceConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// CircuitBreakerConfig trips after FailureThreshold consecutive failures or
// when the failure share within ErrorRateWindow exceeds ErrorRateThreshold.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// RetryConfig governs retries of remote calls.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	IdempotentOnly    bool          `yaml:"idempotent_only"`
}

// CapabilityConfig controls permission tier resolution.
type CapabilityConfig struct {
	StaticPolicyFile string      `yaml:"static_policy_file"`
	Cache            CacheConfig `yaml:"cache"`
}

// CacheConfig bounds a cache by age and size.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// HistoryConfig selects the invocation history store: memory, postgres
// or sqlite.
type HistoryConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	Path            string        `yaml:"path"`
	MaxEntries      int           `yaml:"max_entries"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ObservabilityConfig groups logging, tracing and metrics.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}
