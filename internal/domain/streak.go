package domain

import "time"

// StreakLedger is the per-user running streak record.
type StreakLedger struct {
	UserID           string
	CurrentStreak    int
	LongestStreak    int
	LastActivityDate *Date
	TotalActivities  int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Exists reports whether the ledger has seen at least one activity.
func (l StreakLedger) Exists() bool {
	return l.LastActivityDate != nil
}

// StreakOutcome names how an activity moved the ledger.
type StreakOutcome string

const (
	StreakCreated     StreakOutcome = "created"
	StreakConsecutive StreakOutcome = "consecutive"
	StreakReset       StreakOutcome = "reset"
	StreakUnchanged   StreakOutcome = "unchanged"
)

// StreakUpdate is the result of recording an activity against a ledger.
type StreakUpdate struct {
	Ledger  StreakLedger
	Outcome StreakOutcome
}

// AdvanceStreak applies one activity day to the ledger and reports the outcome.
// It does not touch timestamps; callers persist the result.
func AdvanceStreak(ledger StreakLedger, day Date) (StreakLedger, StreakOutcome) {
	if ledger.LastActivityDate == nil {
		next := ledger
		next.CurrentStreak = 1
		next.LongestStreak = max(ledger.LongestStreak, 1)
		next.LastActivityDate = &day
		next.TotalActivities = ledger.TotalActivities + 1
		return next, StreakCreated
	}

	diff := ledger.LastActivityDate.DaysUntil(day)
	if diff == 0 {
		return ledger, StreakUnchanged
	}

	next := ledger
	next.LastActivityDate = &day
	next.TotalActivities = ledger.TotalActivities + 1
	if diff == 1 {
		next.CurrentStreak = ledger.CurrentStreak + 1
		next.LongestStreak = max(ledger.LongestStreak, next.CurrentStreak)
		return next, StreakConsecutive
	}

	// gaps and back-dated activity both restart the run
	next.CurrentStreak = 1
	return next, StreakReset
}

// Motivation returns the encouragement line shown next to a current streak.
func Motivation(currentStreak int) string {
	switch {
	case currentStreak <= 0:
		return "Start your streak today!"
	case currentStreak < 3:
		return "Keep it going!"
	case currentStreak < 7:
		return "You're on fire!"
	case currentStreak < 30:
		return "Unstoppable momentum!"
	default:
		return "Legendary dedication!"
	}
}

// LeaderboardMetric selects the streak column a leaderboard ranks by.
type LeaderboardMetric string

const (
	MetricCurrent LeaderboardMetric = "current"
	MetricLongest LeaderboardMetric = "longest"
)

// ParseLeaderboardMetric accepts "current" or "longest"; empty defaults to current.
func ParseLeaderboardMetric(value string) (LeaderboardMetric, error) {
	switch LeaderboardMetric(value) {
	case "", MetricCurrent:
		return MetricCurrent, nil
	case MetricLongest:
		return MetricLongest, nil
	default:
		return "", invalid("metric", CodeInvalidMetric, "metric must be current or longest, got %q", value)
	}
}
