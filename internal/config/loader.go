package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// envPrefix namespaces corpusd's environment variables.
	envPrefix = "CORPUSD_"

	maxConfigFileSize = 1024 * 1024
)

// Load builds the configuration from an optional YAML file overridden
// by environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (CORPUSD_SERVER_PORT, CORPUSD_CACHE_ADDR, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// A missing file is not an error; env-only configuration is a normal
// deployment mode.
//
// Environment variables map to YAML keys by stripping the prefix,
// lowercasing, and splitting on the first underscore:
//
//	CORPUSD_SERVER_PORT           -> server.port
//	CORPUSD_EMBEDDINGS_BASE_URL   -> embeddings.base_url
//	CORPUSD_VECTORSTORE_BACKEND   -> vectorstore.backend
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := loadFile(k, configPath); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// CORPUSD_SECTION_FIELD_NAME -> section.field_name. The
		// section never contains an underscore; field names keep
		// theirs.
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}
