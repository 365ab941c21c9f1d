package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard [episode_id]",
	Short: "Show an episode's clip variants ranked by tips",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := newClient().Leaderboard(args[0])
		if err != nil {
			return fmt.Errorf("leaderboard: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Episode %s (%s)\n", resp.EpisodeID, resp.Status)
		if resp.ClipVotingEndsAt != nil {
			fmt.Fprintf(out, "Clip voting ends at %s\n", resp.ClipVotingEndsAt.Format(time.RFC3339))
		}
		if len(resp.Clips) == 0 {
			fmt.Fprintln(out, "No clip variants.")
			return nil
		}

		rows := make([][]string, 0, len(resp.Clips))
		for i, c := range resp.Clips {
			selected := ""
			if c.IsSelected {
				selected = "*"
			}
			rows = append(rows, []string{
				fmt.Sprint(i + 1), fmt.Sprint(c.VariantNumber), c.ID, c.Status,
				cents(c.TipTotalCents), fmt.Sprint(c.VoteCount), selected,
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"RANK", "VARIANT", "CLIP ID", "STATUS", "TIPS", "VOTES", "SELECTED"},
			rows,
			[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight, alignRight},
		))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(leaderboardCmd)
}
