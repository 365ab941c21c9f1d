package cmd

import (
	"fmt"
	"io"

	"moltstudio/pkg/api"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Requeue failed production work",
	Long:  `Clear retry counters on failed work and queue it again, bypassing the auto-retry limits.`,
}

var resetEpisodeCmd = &cobra.Command{
	Use:   "episode [episode_id]",
	Short: "Requeue a failed episode and its failed clips",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newClient().ResetEpisode(args[0])
		if err != nil {
			return fmt.Errorf("reset episode: %w", err)
		}
		printReset(cmd.OutOrStdout(), resp)
		return nil
	},
}

var resetSeriesCmd = &cobra.Command{
	Use:   "series [series_id]",
	Short: "Requeue every failed episode of a series",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newClient().ResetSeries(args[0])
		if err != nil {
			return fmt.Errorf("reset series: %w", err)
		}
		printReset(cmd.OutOrStdout(), resp)
		return nil
	},
}

func printReset(out io.Writer, resp *api.ResetResponse) {
	fmt.Fprintf(out, "Requeued %d episode(s) and %d clip(s)\n", resp.EpisodesReset, resp.ClipsReset)
	fmt.Fprintf(out, "   Series status: %s\n", resp.SeriesStatus)
}

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.AddCommand(resetEpisodeCmd)
	resetCmd.AddCommand(resetSeriesCmd)
}
