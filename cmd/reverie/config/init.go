package configcmder

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/reverie/pkg/cliui"
	"github.com/papercomputeco/reverie/pkg/config"
)

const initLongDesc string = `Write a starter config.toml.

Creates config.toml in the .reverie/ directory with default values, or with
the reflector and embedding sections of a provider preset. An existing file
is only replaced with --force.

Examples:
  reverie config init
  reverie config init --preset openai
  reverie config init --preset ollama --force`

func newInitCmd() *cobra.Command {
	var (
		preset string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config.toml",
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.NewDefaultConfig()
			if preset != "" {
				var err error
				if cfg, err = config.PresetConfig(preset); err != nil {
					return err
				}
			}

			v, err := openView(cmd)
			if err != nil {
				return err
			}
			if v.cfger.Exists() && !force {
				return fmt.Errorf("%s already exists, use --force to replace it", v.cfger.GetTarget())
			}
			if err := v.cfger.SaveConfig(cfg); err != nil {
				return err
			}

			fmt.Fprintf(v.w, "  %s wrote %s\n\n", cliui.SuccessMark, cliui.ValueStyle.Render(v.cfger.GetTarget()))
			return nil
		},
	}

	cmd.Flags().StringVar(&preset, "preset", "", "Provider preset ("+strings.Join(config.ValidPresetNames(), ", ")+")")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing config.toml")
	_ = cmd.RegisterFlagCompletionFunc("preset", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return config.ValidPresetNames(), cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}
