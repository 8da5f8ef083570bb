// Package config loads and validates the service configuration from
// defaults, an optional YAML/JSON file, and MNEMO_-prefixed environment
// variables, in that order of increasing priority.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Embedding EmbeddingConfig `mapstructure:"embedding" validate:"required"`
	Log       LogConfig       `mapstructure:"log"`
	MCP       MCPConfig       `mapstructure:"mcp"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// Addr returns the host:port bind address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds the DuckDB settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// EmbeddingConfig holds the embedding provider settings. APIKey comes from
// MNEMO_EMBEDDING_API_KEY and is never logged.
type EmbeddingConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	MaxRetries int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
}

// MCPConfig holds the MCP server settings.
type MCPConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			RequestTimeout:  60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Path: "mnemo.db",
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			MaxRetries: 3,
			RetryDelay: 2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

var validate = validator.New()

// Validate checks the configuration and returns a readable multi-line error
// when any field is out of range.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:")
	for _, fe := range validationErrors {
		sb.WriteString(fmt.Sprintf("\n  - %s: %s", fe.Namespace(), describeFieldError(fe)))
	}
	return fmt.Errorf("%s", sb.String())
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
