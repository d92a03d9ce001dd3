package commands

import (
	"fmt"
	"os"
	"time"
	"github.com/spf13/cobra"
	"github.com/bl4ck0w1/easmscan/pkg/utils"
)

func NewDiscoverCommand(rt *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "discover <domain>",
		Short: "Map a domain's attack surface from passive sources",
		Long: `Query certificate transparency, DNS, WHOIS, Shodan and SecurityTrails for the
domain and print the discovered assets and relationships as JSON. Sources without
an API key are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := rt.newReconManager(nil)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			start := time.Now()
			result, err := manager.GatherDomainInformation(ctx, args[0])
			if err != nil {
				return fmt.Errorf("passive discovery: %w", err)
			}
			rt.logger().Infof("Discovered %d assets and %d relationships for %s in %s",
				len(result.Assets), len(result.Relationships), args[0], utils.HumanizeDuration(time.Since(start)))
			return writeJSON(os.Stdout, result)
		},
	}
}
