package domain

import (
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(t *testing.T, value string) Date {
	t.Helper()
	d, err := ParseDate(value)
	require.NoError(t, err)
	return d
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", d.String())

	for _, bad := range []string{"", "2024-2-29", "2023-02-29", "2024-13-01", "2024-02-29T00:00:00Z", " 2024-02-29", "29-02-2024"} {
		_, err := ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestDaysUntilUsesCalendarDays(t *testing.T) {
	assert.Equal(t, 1, day(t, "2024-02-28").DaysUntil(day(t, "2024-02-29")))
	assert.Equal(t, 1, day(t, "2024-12-31").DaysUntil(day(t, "2025-01-01")))
	// spans a daylight saving change in most northern zones
	assert.Equal(t, 1, day(t, "2025-03-29").DaysUntil(day(t, "2025-03-30")))
	assert.Equal(t, -3, day(t, "2025-01-04").DaysUntil(day(t, "2025-01-01")))
	assert.Equal(t, 0, day(t, "2025-01-04").DaysUntil(day(t, "2025-01-04")))
}

func TestAdvanceStreakFirstActivity(t *testing.T) {
	next, outcome := AdvanceStreak(StreakLedger{UserID: "u1"}, day(t, "2025-01-01"))
	assert.Equal(t, StreakCreated, outcome)
	assert.Equal(t, 1, next.CurrentStreak)
	assert.Equal(t, 1, next.LongestStreak)
	assert.Equal(t, 1, next.TotalActivities)
	require.NotNil(t, next.LastActivityDate)
	assert.Equal(t, "2025-01-01", next.LastActivityDate.String())
}

func TestAdvanceStreakScenario(t *testing.T) {
	ledger := StreakLedger{UserID: "u1"}
	steps := []struct {
		date    string
		outcome StreakOutcome
		current int
		longest int
		total   int
	}{
		{"2025-01-01", StreakCreated, 1, 1, 1},
		{"2025-01-02", StreakConsecutive, 2, 2, 2},
		{"2025-01-02", StreakUnchanged, 2, 2, 2},
		{"2025-01-05", StreakReset, 1, 2, 3},
		{"2025-01-06", StreakConsecutive, 2, 2, 4},
		{"2025-01-07", StreakConsecutive, 3, 3, 5},
		{"2025-01-03", StreakReset, 1, 3, 6},
	}
	for _, step := range steps {
		var outcome StreakOutcome
		ledger, outcome = AdvanceStreak(ledger, day(t, step.date))
		assert.Equal(t, step.outcome, outcome, step.date)
		assert.Equal(t, step.current, ledger.CurrentStreak, step.date)
		assert.Equal(t, step.longest, ledger.LongestStreak, step.date)
		assert.Equal(t, step.total, ledger.TotalActivities, step.date)
		assert.Equal(t, step.date, ledger.LastActivityDate.String())
	}
}

func TestAdvanceStreakProperties(t *testing.T) {
	faker := gofakeit.New(42)
	start := day(t, "2020-01-01")

	for run := 0; run < 200; run++ {
		ledger := StreakLedger{UserID: faker.UUID()}
		for i := 0; i < 30; i++ {
			offset := faker.Number(-5, 400)
			activity := start.AddDays(offset)
			prev := ledger

			next, outcome := AdvanceStreak(prev, activity)

			assert.GreaterOrEqual(t, next.LongestStreak, prev.LongestStreak)
			assert.GreaterOrEqual(t, next.LongestStreak, next.CurrentStreak)
			assert.GreaterOrEqual(t, next.TotalActivities, prev.TotalActivities)

			again, repeat := AdvanceStreak(next, activity)
			assert.Equal(t, StreakUnchanged, repeat)
			assert.Equal(t, next, again)

			if prev.LastActivityDate != nil {
				switch diff := prev.LastActivityDate.DaysUntil(activity); {
				case diff == 0:
					assert.Equal(t, StreakUnchanged, outcome)
					assert.Equal(t, prev, next)
				case diff == 1:
					assert.Equal(t, prev.CurrentStreak+1, next.CurrentStreak)
					assert.Equal(t, prev.TotalActivities+1, next.TotalActivities)
				default:
					assert.Equal(t, 1, next.CurrentStreak)
					assert.Equal(t, prev.LongestStreak, next.LongestStreak)
				}
			}
			ledger = next
		}
	}
}

func TestMotivation(t *testing.T) {
	cases := map[int]string{
		0:   "Start your streak today!",
		1:   "Keep it going!",
		2:   "Keep it going!",
		3:   "You're on fire!",
		6:   "You're on fire!",
		7:   "Unstoppable momentum!",
		29:  "Unstoppable momentum!",
		30:  "Legendary dedication!",
		365: "Legendary dedication!",
	}
	for streak, want := range cases {
		assert.Equal(t, want, Motivation(streak), streak)
	}
}

func TestParseLeaderboardMetric(t *testing.T) {
	m, err := ParseLeaderboardMetric("")
	require.NoError(t, err)
	assert.Equal(t, MetricCurrent, m)

	m, err = ParseLeaderboardMetric("longest")
	require.NoError(t, err)
	assert.Equal(t, MetricLongest, m)

	_, err = ParseLeaderboardMetric("total")
	require.ErrorIs(t, err, ErrValidation)
}
