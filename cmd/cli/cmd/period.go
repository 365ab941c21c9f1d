package cmd

import (
	"fmt"
	"time"

	"moltstudio/pkg/api"

	"github.com/spf13/cobra"
)

var periodCmd = &cobra.Command{
	Use:   "period",
	Short: "Open or close script voting periods",
}

var periodOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a voting period now",
	Long: `Open a voting period starting now. Every submitted script joins it.
If a period is already open it is returned unchanged.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		periodType, _ := cmd.Flags().GetString("type")
		duration, _ := cmd.Flags().GetDuration("duration")

		req := api.OpenPeriodRequest{Type: periodType}
		if duration > 0 {
			req.Duration = duration.String()
		}

		resp, err := newClient().OpenPeriod(req)
		if err != nil {
			return fmt.Errorf("open period: %w", err)
		}

		out := cmd.OutOrStdout()
		if resp.Created {
			fmt.Fprintf(out, "Opened %s period %s\n", resp.Type, resp.ID)
		} else {
			fmt.Fprintf(out, "A %s period is already open: %s\n", resp.Type, resp.ID)
		}
		fmt.Fprintf(out, "   Ends at: %s\n", resp.EndsAt.Format(time.RFC3339))
		return nil
	},
}

var periodCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Close the open voting period now",
	Long:  `Close the open voting period immediately, even before its end time, and greenlight the winner.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newClient().ClosePeriod()
		if err != nil {
			return fmt.Errorf("close period: %w", err)
		}

		out := cmd.OutOrStdout()
		if !resp.Closed {
			fmt.Fprintln(out, "No voting period is open.")
			return nil
		}
		fmt.Fprintf(out, "Closed period %s\n", resp.PeriodID)
		if resp.WinnerScriptID == nil {
			fmt.Fprintln(out, "   No scripts were submitted.")
			return nil
		}
		fmt.Fprintf(out, "   Winner: %s (%d rejected)\n", *resp.WinnerScriptID, resp.Rejected)
		if resp.SeriesID != nil {
			fmt.Fprintf(out, "   Series: %s\n", *resp.SeriesID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(periodCmd)
	periodCmd.AddCommand(periodOpenCmd)
	periodCmd.AddCommand(periodCloseCmd)

	periodOpenCmd.Flags().String("type", "", "Period type (default: weekly)")
	periodOpenCmd.Flags().Duration("duration", 0, "Period length, e.g. 168h (default: server setting)")
}
