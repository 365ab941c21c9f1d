package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List production jobs",
	Long:  `List the most recent production jobs in a status, failed by default, with the queue depth per status.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		resp, err := newClient().ListJobs(status, limit)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Queue: "+formatCounts(resp.Counts))

		if len(resp.Jobs) == 0 {
			fmt.Fprintln(out, "No jobs found.")
			return nil
		}

		rows := make([][]string, 0, len(resp.Jobs))
		for _, j := range resp.Jobs {
			owner := ""
			if j.EpisodeID != nil {
				owner = "episode " + *j.EpisodeID
			}
			if j.ClipVariantID != nil {
				owner = "clip " + *j.ClipVariantID
			}
			lastErr := ""
			if j.LastError != nil {
				// Truncate long error messages for the table view
				lastErr = truncate(*j.LastError, 50)
			}
			rows = append(rows, []string{
				j.ID, j.JobType, j.Status, fmt.Sprint(j.AttemptCount), owner,
				j.CreatedAt.Format(time.RFC3339), lastErr,
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"JOB ID", "TYPE", "STATUS", "ATTEMPTS", "OWNER", "CREATED", "ERROR"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
		))
		return nil
	},
}

func formatCounts(counts map[string]int64) string {
	if len(counts) == 0 {
		return "empty"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func init() {
	rootCmd.AddCommand(jobsCmd)

	jobsCmd.Flags().String("status", "failed", "Job status: queued, running, completed or failed")
	jobsCmd.Flags().IntP("limit", "l", 50, "Maximum number of jobs to list")
}
