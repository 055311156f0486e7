package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/warboard/warboard/agent/internal/runner"
)

func newRankCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rank",
		Short: "Fetch clan data, reconcile history and save a new ranking",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			sum, err := e.runner.Rank(cmd.Context())
			if err != nil {
				return err
			}
			printRanking(cmd.OutOrStdout(), sum)
			return nil
		},
	}
}

func newRecruitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recruit",
		Short: "Discover, score and track clanless recruiting candidates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			sum, err := e.runner.Recruit(cmd.Context())
			if err != nil {
				return err
			}
			printRecruits(cmd.OutOrStdout(), sum)
			return nil
		},
	}
	cmd.AddCommand(newMarkCmd())
	return cmd
}

func newMarkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark <tag>...",
		Short: "Mark candidates as processed so the next run excludes them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.runner.MarkProcessed(cmd.Context(), args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d tag(s) queued for exclusion\n", n)
			return nil
		},
	}
}

func printRanking(w io.Writer, sum *runner.RankSummary) {
	fmt.Fprintf(w, "week %s, %d members (run %s)\n", sum.Week, len(sum.Rows), sum.RunID)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tTAG\tNAME\tPERF\tRAW\tPART%\tCURRENT\tAVG\tTENURE")
	for _, r := range sum.Rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%.0f\t%dd\n",
			r.Rank, r.Tag, r.Name, r.PerformanceScore, r.RawScore,
			r.Participation, r.CurrentFame, r.AverageFame, r.TenureDays)
	}
	tw.Flush()
}

func printRecruits(w io.Writer, sum *runner.RecruitSummary) {
	s := sum.Stats
	fmt.Fprintf(w, "%d candidates tracked, %d added, %d excluded (benchmark %.0f, run %s)\n",
		len(sum.Candidates), s.Added, sum.Blacklist, sum.Benchmark, sum.RunID)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TAG\tNAME\tPERF\tRAW\tTROPHIES\tWAR\tFOUND")
	for _, c := range sum.Candidates {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			c.Tag, c.Name, c.PerformanceScore, c.RawScore, c.Trophies, c.WarSignal,
			c.FoundDate.Format(time.DateOnly))
	}
	tw.Flush()
}
