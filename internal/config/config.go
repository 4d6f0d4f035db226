// Package config defines the global configuration for the medcase
// entitlement service. Configuration is loaded once at process start and is
// immutable thereafter; sub-components receive only the subsets they need.
package config

import (
	"time"

	"medcase/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server        ServerConfig
	Database      DatabaseConfig
	AIService     AIServiceConfig
	Sweeper       SweeperConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AIServiceConfig holds settings for the external AI processing service that
// owns case ingestion and artifact storage.
type AIServiceConfig struct {
	BaseURL string       `envconfig:"AI_SERVICE_URL" validate:"required,url"`
	Token   SecretString `envconfig:"AI_SERVICE_TOKEN"`

	// CallTimeout bounds each individual call so one unresponsive case
	// deletion cannot stall a whole sweep.
	CallTimeout time.Duration `envconfig:"AI_SERVICE_TIMEOUT" default:"30s"`
	// IngestTimeout is larger because ingest uploads and processes a file.
	IngestTimeout time.Duration `envconfig:"AI_SERVICE_INGEST_TIMEOUT" default:"60s"`
}

// SweeperConfig tunes the lifecycle sweep batch job.
type SweeperConfig struct {
	BatchLimit int `envconfig:"SWEEP_BATCH_LIMIT" default:"50"`
	// CaseDeleteParallelism caps concurrent per-case delete calls for one user.
	CaseDeleteParallelism int `envconfig:"SWEEP_CASE_PARALLELISM" default:"4"`
}

// ObservabilityConfig controls metric emission.
type ObservabilityConfig struct {
	MetricsEnabled   bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"Medcase/Entitlement"`
}
