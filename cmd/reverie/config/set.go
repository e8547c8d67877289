package configcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/reverie/pkg/cliui"
)

const setLongDesc string = `Set a configuration value.

Sets the given key to the provided value in the config.toml file stored in
the .reverie/ directory, creating the file when needed. Numeric keys such as
session.timeout_seconds or embedding.dimensions only accept whole numbers.

Examples:
  reverie config set storage.driver postgres
  reverie config set storage.postgres_dsn postgres://localhost/reverie
  reverie config set reflection.max_attempts 8`

func newSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "set <key> <value>",
		Short:             "Set a configuration value",
		Long:              setLongDesc,
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completeKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if err := checkKey(key); err != nil {
				return err
			}

			v, err := openView(cmd)
			if err != nil {
				return err
			}
			if err := v.cfger.SetConfigValue(key, value); err != nil {
				return err
			}

			fmt.Fprintf(v.w, "  %s %s = %s\n\n", cliui.SuccessMark, cliui.KeyStyle.Render(key), cliui.ValueStyle.Render(value))
			return nil
		},
	}
}
