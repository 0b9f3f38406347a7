// Package config loads this server's environment-variable configuration
// and the per-team configuration referenced by a project's configRef
// (spec §6 "Configuration (configRef)"). Grounded on the teacher's
// internal/config/config.go: one env-tagged Config struct parsed once at
// startup via caarlos0/env, nested per-concern sub-structs.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"

	"github.com/emergent-company/orchestrator/internal/storage"
)

// Module wires Config and TeamConfigStore as singletons.
var Module = fx.Module("config",
	fx.Provide(NewConfig, NewTeamConfigStore, NewModelProviderConfig),
)

// Config holds process-wide configuration loaded once at startup.
type Config struct {
	ServerPort    int    `env:"SERVER_PORT" envDefault:"8080"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	Database DatabaseConfig
	LLM      LLMConfig
	Storage  storage.Config
	Otel     OtelConfig
	Auth     AuthConfig

	// TeamConfigDir is where configRef.yaml team configurations live (§6).
	TeamConfigDir string `env:"ORCH_TEAM_CONFIG_DIR" envDefault:"./config/teams"`

	// DefaultMaxConcurrent is the scheduler's fallback maxConcurrent when a
	// team configuration doesn't set one (§6 "execution parameters").
	DefaultMaxConcurrent int `env:"ORCH_DEFAULT_MAX_CONCURRENT" envDefault:"3"`

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"28800s"` // long enough for SSE
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"28800s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"orchestrator"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"orchestrator"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// LLMConfig holds the process-wide model provider configuration
// (pkg/modelprovider.Config is built from this at startup).
type LLMConfig struct {
	GCPProjectID     string        `env:"GCP_PROJECT_ID" envDefault:""`
	VertexAILocation string        `env:"VERTEX_AI_LOCATION" envDefault:"us-central1"`
	Model            string        `env:"VERTEX_AI_MODEL" envDefault:"gemini-2.5-pro"`
	MaxOutputTokens  int           `env:"LLM_MAX_OUTPUT_TOKENS" envDefault:"8192"`
	Temperature      float64       `env:"LLM_TEMPERATURE" envDefault:"0.2"`
	Timeout          time.Duration `env:"LLM_TIMEOUT" envDefault:"120s"`
}

// OtelConfig holds OpenTelemetry configuration. Tracing is disabled when
// ExporterEndpoint is empty.
type OtelConfig struct {
	ExporterEndpoint string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	ServiceName      string  `env:"OTEL_SERVICE_NAME" envDefault:"orchestrator"`
	SamplingRate     float64 `env:"OTEL_SAMPLING_RATE" envDefault:"1.0"`
}

// Enabled reports whether an OTLP endpoint is configured.
func (c OtelConfig) Enabled() bool {
	return c.ExporterEndpoint != ""
}

// AuthConfig holds the Zitadel/OIDC settings pkg/auth needs to introspect
// bearer tokens at the §1 "HTTP transport, authentication ... external"
// boundary.
type AuthConfig struct {
	Domain               string        `env:"ZITADEL_DOMAIN" envDefault:"localhost:8080"`
	Issuer               string        `env:"ZITADEL_ISSUER"`
	ClientJWT            string        `env:"ZITADEL_CLIENT_JWT"`
	ClientJWTPath        string        `env:"ZITADEL_CLIENT_JWT_PATH"`
	DisableIntrospection bool          `env:"DISABLE_ZITADEL_INTROSPECTION" envDefault:"false"`
	IntrospectCacheTTL   time.Duration `env:"ZITADEL_INTROSPECT_CACHE_TTL" envDefault:"5m"`
	Insecure             bool          `env:"ZITADEL_INSECURE" envDefault:"false"`

	// ServiceTokenSecret, when set, lets trusted internal callers (other
	// orchestrator processes, CI) present a locally-signed HS256 JWT
	// instead of round-tripping through Zitadel introspection.
	ServiceTokenSecret string `env:"SERVICE_JWT_SECRET"`
}

// GetIssuer returns the configured issuer URL, defaulting to
// https://{Domain} (or http://{Domain} in Insecure mode).
func (a *AuthConfig) GetIssuer() string {
	if a.Issuer != "" {
		return a.Issuer
	}
	scheme := "https"
	if a.Insecure {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, a.Domain)
}

// NewConfig loads Config from the environment.
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
		slog.String("team_config_dir", cfg.TeamConfigDir),
	)

	return cfg, nil
}
