package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/bl4ck0w1/easmscan/internal/reporting"
)

func NewResultsCommand(rt *Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect stored scan results",
		Long:  `List, print, report on and prune scan results stored under the data directory.`,
	}
	cmd.AddCommand(newResultsListCommand(rt))
	cmd.AddCommand(newResultsShowCommand(rt))
	cmd.AddCommand(newResultsReportCommand(rt))
	cmd.AddCommand(newResultsPruneCommand(rt))
	return cmd
}

func newResultsListCommand(rt *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored results, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rt.newResultStore()
			if err != nil {
				return err
			}
			list, err := store.List()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				rt.logger().Infof("No stored results in %s", store.Dir())
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCAN ID\tTARGET\tWHEN\tISSUES")
			for _, r := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.ScanID, r.Target, humanize.Time(r.Timestamp), r.TotalIssues)
			}
			return w.Flush()
		},
	}
}

func newResultsShowCommand(rt *Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "show <scan-id>",
		Short: "Print a stored result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rt.newResultStore()
			if err != nil {
				return err
			}
			result, err := store.Load(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newResultsReportCommand(rt *Runtime) *cobra.Command {
	var (
		formats   []string
		outputDir string
	)
	cmd := &cobra.Command{
		Use:   "report <scan-id>",
		Short: "Write report files for a stored result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rt.newResultStore()
			if err != nil {
				return err
			}
			result, err := store.Load(args[0])
			if err != nil {
				return err
			}

			rc := rt.config().Reporting
			if len(formats) > 0 {
				rc.Formats = formats
			}
			if outputDir != "" {
				rc.OutputDir = outputDir
			}
			gen, err := reporting.NewReportGenerator(rc, rt.Version, rt.logger().ForComponent("reporting"))
			if err != nil {
				return err
			}
			paths, err := gen.GenerateAndExport(result, nil)
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return err
		},
	}
	cmd.Flags().StringSliceVarP(&formats, "formats", "f", nil, "Report formats (json, yaml, txt)")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Report output directory")
	return cmd
}

func newResultsPruneCommand(rt *Runtime) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete stored results older than a retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := rt.newResultStore()
			if err != nil {
				return err
			}
			removed, err := store.Prune(olderThan)
			if err != nil {
				return err
			}
			stats, err := store.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Removed %d results; %v remaining (%v)\n", removed, stats["results"], stats["total_size_human"])
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Retention period")
	return cmd
}
