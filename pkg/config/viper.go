package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/papercomputeco/reverie/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the REVERIE_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (REVERIE_API_LISTEN, REVERIE_STORAGE_DRIVER, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	setViperDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")

	target, err := dotdir.Resolve(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("REVERIE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// Resolve builds the effective Config: the [[agents]] tables come from the
// config file, every scalar key comes from v so flags and REVERIE_* env
// variables take precedence.
func Resolve(v *viper.Viper, configDir string) (*Config, error) {
	cfger, err := NewConfiger(configDir)
	if err != nil {
		return nil, err
	}

	cfg, err := cfger.LoadConfig()
	if err != nil {
		return nil, err
	}

	for _, key := range orderedKeys {
		if !v.IsSet(key) {
			continue
		}
		if err := configKeys[key].set(cfg, v.GetString(key)); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	for _, key := range orderedKeys {
		if def := configKeys[key].get(d); def != "" {
			v.SetDefault(key, def)
		}
	}
}
