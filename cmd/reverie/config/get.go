package configcmder

import (
	"fmt"

	"github.com/spf13/cobra"
)

const getLongDesc string = `Get a configuration value.

Reads the value for the given key from the config.toml file stored in the
.reverie/ directory. Unset keys show their default.

Examples:
  reverie config get reflector.provider
  reverie config get session.timeout_seconds`

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "get <key>",
		Short:             "Get a configuration value",
		Long:              getLongDesc,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if err := checkKey(key); err != nil {
				return err
			}

			v, err := openView(cmd)
			if err != nil {
				return err
			}
			value, err := v.cfger.GetConfigValue(key)
			if err != nil {
				return err
			}

			v.row(key, len(key), value)
			fmt.Fprintln(v.w)
			return nil
		},
	}
}
