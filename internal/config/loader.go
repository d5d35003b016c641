// Package config loads the application configuration from config.yaml with
// environment overrides prefixed NOTAFLOW (NOTAFLOW_DATABASE_PASSWORD,
// NOTAFLOW_VAULT_PASSPHRASE and so on).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/notaflow/notaflow/internal/db"
	"github.com/notaflow/notaflow/internal/pipeline"
	"github.com/notaflow/notaflow/internal/queue"
	"github.com/notaflow/notaflow/internal/validator"
	"github.com/notaflow/notaflow/internal/vision"
	"github.com/notaflow/notaflow/pkg/logger"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// VisionSettings gate and parameterize the vision extraction backend.
type VisionSettings struct {
	Enabled             bool `mapstructure:"enabled"`
	vision.VertexConfig `mapstructure:",squash"`
}

// IntegrationConfig parameterizes the fiscal authority client. The vault
// passphrase is only read from the environment, never from the file.
type IntegrationConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	BaseURL          string        `mapstructure:"base_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	DefaultAction    string        `mapstructure:"default_action"`
	CertificateAlias string        `mapstructure:"certificate_alias"`
	VaultPassphrase  string        `mapstructure:"-"`
}

// Config is the root application configuration.
type Config struct {
	Server      ServerConfig         `mapstructure:"server"`
	Database    db.Config            `mapstructure:"database"`
	Logging     logger.Config        `mapstructure:"logging"`
	SchemaPath  string               `mapstructure:"schema_path"`
	Migrations  string               `mapstructure:"migrations"`
	Vision      VisionSettings       `mapstructure:"vision"`
	Queue       queue.Config         `mapstructure:"queue"`
	Validation  validator.Tolerance  `mapstructure:"validation"`
	Retry       pipeline.RetryPolicy `mapstructure:"retry"`
	Integration IntegrationConfig    `mapstructure:"integration"`
}

// Default returns the configuration used when config.yaml is absent.
func Default() Config {
	return Config{
		Server:     ServerConfig{Port: 8080, CORSOrigins: []string{"http://localhost:5173"}},
		Database:   db.DefaultConfig(),
		Logging:    logger.Config{Level: "info", Format: "json"},
		SchemaPath: "data/tax_schema.yaml",
		Migrations: "migrations",
		Vision: VisionSettings{
			VertexConfig: vision.VertexConfig{Region: "us-central1", Model: "gemini-1.5-flash"},
		},
		Queue:      queue.DefaultConfig(),
		Validation: validator.DefaultTolerance,
		Retry:      pipeline.DefaultRetryPolicy,
		Integration: IntegrationConfig{
			Timeout:       30 * time.Second,
			DefaultAction: "ciencia",
		},
	}
}

// Load reads config.yaml from configPath, falling back to defaults plus
// environment variables when the file is missing.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("NOTAFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Secrets stay out of the file.
	v.BindEnv("database.password")
	v.BindEnv("vault.passphrase")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Integration.VaultPassphrase = v.GetString("vault.passphrase")
	if pw := v.GetString("database.password"); pw != "" {
		cfg.Database.Password = pw
	}
	return cfg, nil
}
