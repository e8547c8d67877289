package configcmder

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/reverie/pkg/cliui"
	"github.com/papercomputeco/reverie/pkg/config"
)

const listLongDesc string = `List configuration values.

Displays every configuration key with its current value from the config.toml
file stored in the .reverie/ directory, followed by the configured agents.
A section name limits the output to that TOML section.

Examples:
  reverie config list
  reverie config list reflection`

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [section]",
		Short: "List configuration values",
		Long:  listLongDesc,
		Args:  cobra.MaximumNArgs(1),
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			return sections(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			section := ""
			if len(args) == 1 {
				section = args[0]
			}
			return runList(cmd, section)
		},
	}
}

func runList(cmd *cobra.Command, section string) error {
	keys := config.ValidConfigKeys()
	if section != "" {
		keys = keysIn(keys, section)
		if len(keys) == 0 && section != "agents" {
			return fmt.Errorf("unknown config section: %q\n\nSections: %s", section, strings.Join(sections(), ", "))
		}
	}

	v, err := openView(cmd)
	if err != nil {
		return err
	}

	width := 0
	for _, k := range keys {
		width = max(width, len(k))
	}
	for _, key := range keys {
		value, err := v.cfger.GetConfigValue(key)
		if err != nil {
			return err
		}
		v.row(key, width, value)
	}

	if section == "" || section == "agents" {
		if err := v.agents(); err != nil {
			return err
		}
	}
	fmt.Fprintln(v.w)
	return nil
}

func (v *view) agents() error {
	cfg, err := v.cfger.LoadConfig()
	if err != nil {
		return err
	}

	fmt.Fprintf(v.w, "\n  %s\n", cliui.HeaderStyle.Render(fmt.Sprintf("agents (%d)", len(cfg.Agents))))
	for _, a := range cfg.Agents {
		reflectorID := a.ReflectorAgentID
		if reflectorID == "" {
			reflectorID = a.ID
		}
		fmt.Fprintf(v.w, "  %s  %s\n",
			cliui.KeyStyle.Render(a.ID),
			cliui.DimStyle.Render(fmt.Sprintf("reflector=%s persistent_context=%d", reflectorID, len(a.PersistentContext))),
		)
	}
	return nil
}

func keysIn(keys []string, section string) []string {
	var out []string
	for _, k := range keys {
		if strings.HasPrefix(k, section+".") {
			out = append(out, k)
		}
	}
	return out
}

// sections lists the TOML sections in key order, plus agents.
func sections() []string {
	var out []string
	for _, k := range config.ValidConfigKeys() {
		name, _, _ := strings.Cut(k, ".")
		if len(out) == 0 || out[len(out)-1] != name {
			out = append(out, name)
		}
	}
	return append(out, "agents")
}
