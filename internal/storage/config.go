package storage

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds S3-compatible storage configuration for the artifact
// FileStore backend, grounded on the teacher's internal/storage.Config but
// migrated from os.Getenv to caarlos0/env tags to match this repo's
// internal/config convention.
type Config struct {
	Endpoint  string `env:"ORCH_STORAGE_ENDPOINT"`
	AccessKey string `env:"ORCH_STORAGE_ACCESS_KEY"`
	SecretKey string `env:"ORCH_STORAGE_SECRET_KEY"`
	Region    string `env:"ORCH_STORAGE_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"ORCH_STORAGE_BUCKET" envDefault:"orchestrator-artifacts"`
}

// Enabled reports whether storage is configured for real network use.
func (c *Config) Enabled() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != ""
}

// NewConfig loads Config from the environment.
func NewConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse storage config: %w", err)
	}
	return cfg, nil
}
