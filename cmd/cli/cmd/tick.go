package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Trigger a scheduled pass by hand",
	Long:  `Run the voting, production or payout pass the scheduler normally triggers.`,
}

var tickVotingCmd = &cobra.Command{
	Use:   "voting",
	Short: "Close an ended voting period and settle clip voting windows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newClient().VotingTick()
		if err != nil {
			return fmt.Errorf("voting tick: %w", err)
		}

		out := cmd.OutOrStdout()
		if resp.ClosedPeriodID == nil {
			fmt.Fprintln(out, "No voting period ended.")
		} else {
			fmt.Fprintf(out, "Closed period %s\n", *resp.ClosedPeriodID)
			if resp.WinnerScriptID != nil {
				fmt.Fprintf(out, "   Winner: %s\n", *resp.WinnerScriptID)
			} else {
				fmt.Fprintln(out, "   No scripts were submitted.")
			}
		}
		for _, id := range resp.SeriesIDs {
			fmt.Fprintf(out, "Series in production: %s\n", id)
		}
		fmt.Fprintf(out, "Clip voting windows closed: %d\n", resp.ClipWindowsClosed)
		return nil
	},
}

var tickProductionCmd = &cobra.Command{
	Use:   "production",
	Short: "Run one production batch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newClient().ProductionTick()
		if err != nil {
			return fmt.Errorf("production tick: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), renderTable(
			[]string{"STALE", "CLAIMED", "COMPLETED", "RETRIED", "FAILED", "SKIPPED", "ERRORS"},
			[][]string{{
				fmt.Sprint(resp.Stale), fmt.Sprint(resp.Claimed), fmt.Sprint(resp.Completed),
				fmt.Sprint(resp.Retried), fmt.Sprint(resp.Failed), fmt.Sprint(resp.Skipped), fmt.Sprint(resp.Errors),
			}},
			[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
		))
		fmt.Fprintf(cmd.OutOrStdout(), "Auto-retry sweep: %d eligible, %d requeued, %d too young, %d max retries, %d too old\n",
			resp.Sweep.Eligible, resp.Sweep.Requeued, resp.Sweep.TooYoung, resp.Sweep.MaxRetriesReached, resp.Sweep.TooOld)
		return nil
	},
}

var tickPayoutsCmd = &cobra.Command{
	Use:   "payouts",
	Short: "Disburse pending payout shares",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newClient().PayoutTick()
		if err != nil {
			return fmt.Errorf("payout tick: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Payouts: %d sent, %d retried, %d failed\n", resp.Sent, resp.Retried, resp.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tickCmd)
	tickCmd.AddCommand(tickVotingCmd)
	tickCmd.AddCommand(tickProductionCmd)
	tickCmd.AddCommand(tickPayoutsCmd)
}
