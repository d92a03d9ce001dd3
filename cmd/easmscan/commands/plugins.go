package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"github.com/spf13/cobra"
	"github.com/bl4ck0w1/easmscan/internal/plugins"
)

func NewPluginsCommand(rt *Runtime) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "plugins",
		Aliases: []string{"capabilities"},
		Short:   "List registered detectors",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := plugins.NewRegistry(rt.logger().ForComponent("plugins"))
			if err != nil {
				return err
			}
			infos := registry.Describe()
			if asJSON {
				return writeJSON(os.Stdout, infos)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%s\t%s\n", info.ID, info.Name, info.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}
