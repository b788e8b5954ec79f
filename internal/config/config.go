// Package config defines the process-wide configuration for the audit
// ledger service. Configuration is loaded once at startup and is immutable
// thereafter; core components receive only the subsets they require, so the
// coordinator and orchestrator stay testable with injected fakes and no
// ambient environment lookups.
package config

import (
	"time"

	"auditledger/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Heroku   HerokuConfig
	Database DatabaseConfig
	Job      JobConfig
	Server   ServerConfig
}

// HerokuConfig holds the audit-event feed credentials and optional filters.
type HerokuConfig struct {
	APIToken  SecretString `envconfig:"HEROKU_API_TOKEN" validate:"required"`
	AccountID string       `envconfig:"HEROKU_ACCOUNT_ID_OR_NAME" validate:"required"`
	BaseURL   string       `envconfig:"HEROKU_API_URL" default:"https://api.heroku.com" validate:"required,url"`

	// Optional server-side filters applied to the event feed.
	FilterType       string `envconfig:"FILTER_TYPE"`
	FilterAction     string `envconfig:"FILTER_ACTION"`
	FilterActorEmail string `envconfig:"FILTER_ACTOR_EMAIL"`

	// RequestTimeout bounds each feed request. The fetch capability must
	// bound its own latency; a hung call past this deadline surfaces as a
	// structured failure, not a hung worker.
	RequestTimeout time.Duration `envconfig:"HEROKU_REQUEST_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds the ledger connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"4"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// JobConfig holds run-coordination policy parameters.
type JobConfig struct {
	// StuckThreshold is how old a PROCESSING claim must be before the
	// cleanup sweep reclaims it. It must comfortably exceed the worst-case
	// fetch latency so the sweep never races a still-live worker.
	StuckThreshold time.Duration `envconfig:"STUCK_CLAIM_THRESHOLD" default:"24h" validate:"required,min=1h"`
}

// ServerConfig holds the admin API listener configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}
