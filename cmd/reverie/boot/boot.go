// Package boot resolves configuration and logging for reverie commands.
package boot

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/reverie/cmd/reverie/sqlitepath"
	"github.com/papercomputeco/reverie/pkg/config"
	"github.com/papercomputeco/reverie/pkg/dotdir"
	"github.com/papercomputeco/reverie/pkg/logger"
)

// Load resolves the configuration for cmd: defaults, config.toml, REVERIE_*
// environment variables and the flags named by flagKeys, in rising
// precedence. The returned viper instance stays bound to the config file.
func Load(cmd *cobra.Command, flagKeys []string) (*config.Config, *viper.Viper, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")

	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, flagKeys)

	cfg, err := Resolve(v, configDir)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Resolve builds the effective Config from v and fills in the SQLite path
// when the sqlite driver is selected.
func Resolve(v *viper.Viper, configDir string) (*config.Config, error) {
	cfg, err := config.Resolve(v, configDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if cfg.Storage.Driver == "sqlite" || cfg.Storage.Driver == "" {
		target, err := dotdir.Resolve(configDir)
		if err != nil {
			return nil, fmt.Errorf("resolving config dir: %w", err)
		}
		cfg.Storage.SQLitePath = sqlitepath.ResolveSQLitePath(cfg.Storage.SQLitePath, target)
	}

	return cfg, nil
}

// NewLogger builds the command logger on stderr in the --log-format format.
// When the command has a non-empty --log-file flag, records are also
// appended to that file as JSON; the returned func closes it.
func NewLogger(cmd *cobra.Command) (*slog.Logger, func() error, error) {
	debug, _ := cmd.Flags().GetBool("debug")
	rawFormat, _ := cmd.Flags().GetString("log-format")

	format := logger.FormatAuto
	if rawFormat != "" {
		var err error
		if format, err = logger.ParseFormat(rawFormat); err != nil {
			return nil, nil, err
		}
	}

	console := logger.New(
		logger.WithDebug(debug),
		logger.WithFormat(format),
		logger.WithWriter(os.Stderr),
	)

	path, _ := cmd.Flags().GetString("log-file")
	if path == "" {
		return console, func() error { return nil }, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	file := logger.New(
		logger.WithDebug(debug),
		logger.WithFormat(logger.FormatJSON),
		logger.WithWriter(f),
	)
	return logger.Tee(console, file), f.Close, nil
}
