package cli

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/writefactory/internal/analytics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise logged runs (requires storage.database_url)",
	RunE: func(cmd *cobra.Command, args []string) error {
		sinceFlag, _ := cmd.Flags().GetString("since")
		asJSON, _ := cmd.Flags().GetBool("json")
		window, err := parseWindow(sinceFlag)
		if err != nil {
			return err
		}

		database, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		report, err := analytics.Build(cmd.Context(), database, time.Now().Add(-window))
		if err != nil {
			return err
		}
		if asJSON {
			data, err := sonic.ConfigStd.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal report: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		return printReport(cmd, report)
	},
}

// parseWindow accepts Go durations plus a whole-day suffix such as "7d".
func parseWindow(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid --since %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid --since %q", s)
	}
	return d, nil
}

func printReport(cmd *cobra.Command, r *analytics.Report) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %d run(s) since %s\n\n", titleStyle.Render("Runs:"), r.Runs, r.Since.Local().Format(time.DateTime))
	if r.Runs == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tTOTAL\tCOMPLETED\tFAILED\tIN FLIGHT\tSUCCESS")
	for _, o := range r.Outcomes {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.1f%%\n", o.ContentType, o.Total, o.Completed, o.Failed, o.InFlight, o.SuccessPct)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "TYPE\tSTEP\tCOUNT\tAVG(s)\tP50(s)\tP95(s)\tCACHED")
	for _, s := range r.Steps {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.1f\t%.1f\t%.1f\t%.1f%%\n", s.ContentType, s.Step, s.Count, s.Avg, s.P50, s.P95, s.CachedPct)
	}

	if len(r.Failures) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "KIND\tSTEP\tCOUNT\tSHARE")
		for _, f := range r.Failures {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%.1f%%\n", f.Kind, f.Step, f.Count, f.Pct)
		}
	}

	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "WEEK\tSTARTED\tCOMPLETED\tFAILED")
	for _, t := range r.Throughput {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", t.Week, t.Started, t.Completed, t.Failed)
	}
	return tw.Flush()
}

func init() {
	statsCmd.Flags().String("since", "30d", "window to summarise, e.g. 7d or 12h")
	statsCmd.Flags().Bool("json", false, "print the report as JSON")
}
