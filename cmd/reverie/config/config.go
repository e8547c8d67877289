// Package configcmder provides the config command for managing persistent
// reverie configuration stored in the .reverie/ directory.
package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/reverie/pkg/cliui"
	"github.com/papercomputeco/reverie/pkg/config"
)

const configLongDesc string = `Manage persistent reverie configuration.

Configuration is stored as config.toml in the .reverie/ directory and provides
default values for command flags. CLI flags and REVERIE_* environment
variables take precedence over config file values.

Keys use dotted notation matching the TOML section structure, for example:
  storage.driver, storage.sqlite_path,
  reflector.provider, reflector.model,
  session.timeout_seconds, reflection.workers,
  queue.provider, queue.brokers,
  context.max_chars, api.listen, client.api_target

Per-agent settings live in [[agents]] tables and are edited in config.toml
directly.

Use subcommands to get, set, or list configuration values:
  reverie config init [--preset name] Write a starter config.toml
  reverie config set <key> <value>    Set a configuration value
  reverie config get <key>            Get a configuration value
  reverie config list [section]       List configuration values

Examples:
  reverie config set reflector.provider anthropic
  reverie config set session.timeout_seconds 600
  reverie config get storage.driver
  reverie config list`

const configShortDesc string = "Manage persistent reverie configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func checkKey(key string) error {
	if !config.IsValidConfigKey(key) {
		return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
			key, strings.Join(config.ValidConfigKeys(), ", "))
	}
	return nil
}

// view is an opened config file plus the writer a subcommand reports to.
type view struct {
	w     io.Writer
	cfger *config.Configer
}

// openView loads the config in the inherited --config-dir and prints which
// file is in use.
func openView(cmd *cobra.Command) (*view, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")
	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	v := &view{w: cmd.OutOrStdout(), cfger: cfger}
	if target := cfger.GetTarget(); target != "" {
		fmt.Fprintf(v.w, "\n  %s %s\n\n", cliui.KeyStyle.Render("Config file:"), cliui.DimStyle.Render(target))
	} else {
		fmt.Fprintf(v.w, "\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
	}
	return v, nil
}

// row prints key padded to width followed by its value.
func (v *view) row(key string, width int, value string) {
	shown := cliui.DimStyle.Render("<not set>")
	if value != "" {
		shown = cliui.ValueStyle.Render(value)
	}
	fmt.Fprintf(v.w, "  %s  %s\n", cliui.KeyStyle.Render(fmt.Sprintf("%-*s", width, key)), shown)
}
