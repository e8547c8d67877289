// Package versioncmder provides the version command.
package versioncmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/reverie/pkg/cliui"
	"github.com/papercomputeco/reverie/pkg/utils"
)

func NewVersionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Display the reverie version",
		Long:  "Display the version, commit and build time of this reverie binary.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(w, utils.BuildInfo())
				return nil
			}

			for _, row := range [][2]string{
				{"Version", utils.Version},
				{"Commit", utils.Sha},
				{"Built", utils.Buildtime},
			} {
				fmt.Fprintf(w, "%s %s\n", cliui.KeyStyle.Render(fmt.Sprintf("%-8s", row[0]+":")), row[1])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Print a single line")

	return cmd
}
