// Package config loads the service configuration from defaults, an optional
// YAML file and LISTINGRISK_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/opensource-finance/listingrisk/internal/domain"
)

const (
	// EnvPrefix prefixes every configuration environment variable.
	EnvPrefix = "LISTINGRISK_"

	// PathEnv names the variable holding the config file path.
	PathEnv = EnvPrefix + "CONFIG"

	// DefaultPath is read when PathEnv is unset. It may be absent.
	DefaultPath = "configs/listingrisk.yaml"
)

// Load builds the configuration. Defaults come from domain.DefaultConfig, or
// domain.ProConfig when LISTINGRISK_TIER=pro; the YAML file and then the
// environment override them.
func Load() (*domain.Config, error) {
	path, explicit := os.LookupEnv(PathEnv)
	if !explicit || path == "" {
		path, explicit = DefaultPath, false
	}
	return LoadFile(path, explicit)
}

// LoadFile loads configuration using path as the YAML layer. When required is
// false a missing file is skipped.
func LoadFile(path string, required bool) (*domain.Config, error) {
	k := koanf.New(".")

	defaults := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv(EnvPrefix+"TIER"), string(domain.TierPro)) {
		defaults = domain.ProConfig()
	}
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file %s: %w", path, err)
			}
		} else if required || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg domain.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps LISTINGRISK_SERVER_PORT to server.port and
// LISTINGRISK_REPOSITORY_SQLITE_PATH to repository.sqlite_path.
// Only the first underscore after the prefix separates the section.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(key, "_", ".", 1)
}

// Validate rejects configurations the service cannot start with.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported repository driver %q", cfg.Repository.Driver)
	}
	switch cfg.ModelStore.Type {
	case "", "file", "sql":
	default:
		return fmt.Errorf("unsupported model store type %q", cfg.ModelStore.Type)
	}
	if cfg.ModelStore.Retain < 0 {
		return fmt.Errorf("model store retain must not be negative, got %d", cfg.ModelStore.Retain)
	}
	return nil
}
