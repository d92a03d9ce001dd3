package commands

import (
	"fmt"
	"runtime"
	"github.com/spf13/cobra"
)

func NewVersionCommand(rt *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print detailed version information about easmscan.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("easmscan Version: %s\n", rt.Version)
			fmt.Printf("Git Commit: %s\n", rt.Commit)
			fmt.Printf("Build Date: %s\n", rt.BuildDate)
			fmt.Printf("Go Version: %s\n", runtime.Version())
			fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
