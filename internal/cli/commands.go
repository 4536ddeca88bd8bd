package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"example.com/gamification/internal/bootstrap"
	"example.com/gamification/internal/catalog"
	"example.com/gamification/internal/domain"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Apply the achievement catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := bootstrap.CatalogEntries(seedFile)
		if err != nil {
			return err
		}
		return withBackend(cmd, func(ctx context.Context, b *backend) error {
			inserted, err := catalog.Seed(ctx, b.store, entries)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d new achievements (%d in catalog)\n", inserted, len(entries))
			return nil
		})
	},
}

var streakCmd = &cobra.Command{
	Use:   "streak <user-id>",
	Short: "Show a user's streak",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b *backend) error {
			ledger, err := b.service.GetStreak(ctx, args[0])
			if err != nil {
				return err
			}
			last := "-"
			if ledger.LastActivityDate != nil {
				last = ledger.LastActivityDate.String()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User: %s\nCurrent: %d\nLongest: %d\nLast activity: %s\nTotal activities: %d\n%s\n",
				ledger.UserID, ledger.CurrentStreak, ledger.LongestStreak, last, ledger.TotalActivities, domain.Motivation(ledger.CurrentStreak))
			return nil
		})
	},
}

var recordSkipEvaluate bool

var recordCmd = &cobra.Command{
	Use:   "record <user-id> <YYYY-MM-DD>",
	Short: "Record an activity day and evaluate achievements",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b *backend) error {
			out := cmd.OutOrStdout()
			if recordSkipEvaluate {
				update, err := b.service.RecordActivity(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Streak %s: current %d, longest %d\n", update.Outcome, update.Ledger.CurrentStreak, update.Ledger.LongestStreak)
				return nil
			}

			progress, err := b.service.ProcessActivity(ctx, args[0], args[1])
			var partial *domain.PartialUnlockError
			if err != nil && !errors.As(err, &partial) {
				return err
			}
			ledger := progress.Streak.Ledger
			fmt.Fprintf(out, "Streak %s: current %d, longest %d\n", progress.Streak.Outcome, ledger.CurrentStreak, ledger.LongestStreak)
			for _, a := range progress.Achievements.NewlyUnlocked {
				fmt.Fprintf(out, "Unlocked: %s (+%d)\n", a.Name, a.Points)
			}
			return err
		})
	},
}

var (
	leaderboardType  string
	leaderboardLimit int
)

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Show the top streaks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b *backend) error {
			entries, err := b.service.ListLeaderboard(ctx, leaderboardType, leaderboardLimit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tUSER\tCURRENT\tLONGEST\tTOTAL")
			for i, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\n", i+1, e.UserID, e.CurrentStreak, e.LongestStreak, e.TotalActivities)
			}
			return w.Flush()
		})
	},
}

var achievementsCmd = &cobra.Command{
	Use:   "achievements <user-id>",
	Short: "Show a user's unlocked achievements and points",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b *backend) error {
			summary, err := b.service.AchievementSummary(ctx, args[0])
			if err != nil {
				return err
			}
			records, err := b.service.ListUnlockedAchievements(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Points: %d\nUnlocked: %d/%d (%d%%)\n", summary.TotalPoints, summary.UnlockedCount, summary.TotalCount, summary.CompletionPercent)
			for _, rec := range records {
				if rec.Achievement == nil {
					continue
				}
				fmt.Fprintf(out, "%s  %s  %s\n", rec.UnlockedAt.Format("2006-01-02"), rec.Achievement.Name, strings.TrimSpace(rec.Achievement.Icon))
			}
			return nil
		})
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "TOML catalog file (defaults to the built-in catalog)")
	recordCmd.Flags().BoolVar(&recordSkipEvaluate, "no-evaluate", false, "Only advance the streak")
	leaderboardCmd.Flags().StringVar(&leaderboardType, "type", "current", "Ranking metric: current or longest")
	leaderboardCmd.Flags().IntVar(&leaderboardLimit, "limit", domain.DefaultLeaderboardLimit, "Number of users to show")

	rootCmd.AddCommand(seedCmd, streakCmd, recordCmd, leaderboardCmd, achievementsCmd)
}
