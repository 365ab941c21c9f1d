package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var produceCmd = &cobra.Command{
	Use:   "produce [script_id]",
	Short: "Start production of a selected script",
	Long: `Create the series, episodes and generation jobs for a selected script.
Running it again for the same script returns the existing series.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newClient().Produce(args[0])
		if err != nil {
			return fmt.Errorf("produce script: %w", err)
		}

		out := cmd.OutOrStdout()
		if resp.Created {
			fmt.Fprintf(out, "Series %s created\n", resp.SeriesID)
		} else {
			fmt.Fprintf(out, "Series %s already exists\n", resp.SeriesID)
		}
		fmt.Fprintf(out, "   Medium: %s\n   Episodes: %d\n   Status: %s\n", resp.Medium, resp.EpisodeCount, resp.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(produceCmd)
}
