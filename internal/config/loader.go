package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "MNEMO_"
	// Delimiter is the key delimiter for nested config.
	Delimiter = "."
)

// Load builds the configuration with the following priority, lowest first:
// built-in defaults, the config file at path (optional), then MNEMO_
// environment variables. MNEMO_SERVER_PORT maps to server.port.
func Load(path string) (*Config, error) {
	k := koanf.New(Delimiter)

	// Defaults go in as flat leaf keys so a file or env override merges a
	// single value instead of replacing a whole section.
	defaults := Default()
	err := k.Load(confmap.Provider(map[string]interface{}{
		"server.host":             defaults.Server.Host,
		"server.port":             defaults.Server.Port,
		"server.request_timeout":  defaults.Server.RequestTimeout,
		"server.shutdown_timeout": defaults.Server.ShutdownTimeout,
		"server.cors_origins":     defaults.Server.CORSOrigins,
		"database.path":           defaults.Database.Path,
		"embedding.api_key":       defaults.Embedding.APIKey,
		"embedding.base_url":      defaults.Embedding.BaseURL,
		"embedding.model":         defaults.Embedding.Model,
		"embedding.max_retries":   defaults.Embedding.MaxRetries,
		"embedding.retry_delay":   defaults.Embedding.RetryDelay,
		"log.level":               defaults.Log.Level,
		"log.format":              defaults.Log.Format,
		"mcp.enabled":             defaults.MCP.Enabled,
	}, Delimiter), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := loadFile(k, path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	err = k.Load(env.Provider(EnvPrefix, Delimiter, func(s string) string {
		// MNEMO_SERVER_PORT -> server.port, MNEMO_EMBEDDING_API_KEY ->
		// embedding.api_key. Only the first underscore separates sections.
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.Replace(key, "_", Delimiter, 1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	err = k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "mapstructure"})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", path)
	}

	return k.Load(file.Provider(path), parser)
}
