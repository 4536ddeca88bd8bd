package domain

import "time"

// RequirementType selects the counter an achievement threshold is compared against.
type RequirementType string

const (
	RequirementStreakDays       RequirementType = "streak_days"
	RequirementActivitiesCount  RequirementType = "activities_count"
	RequirementProgressLogged   RequirementType = "progress_logged"
	RequirementWorkoutCompleted RequirementType = "workout_completed"
	RequirementGoalSet          RequirementType = "goal_set"
)

// RequirementTypes lists every declared requirement type.
var RequirementTypes = []RequirementType{
	RequirementStreakDays,
	RequirementActivitiesCount,
	RequirementProgressLogged,
	RequirementWorkoutCompleted,
	RequirementGoalSet,
}

// Counters is the aggregate user state achievements are evaluated against.
type Counters struct {
	CurrentStreak   int
	TotalActivities int
	Activities      ActivityCounts
}

var requirementCounters = map[RequirementType]func(Counters) int{
	RequirementStreakDays:       func(c Counters) int { return c.CurrentStreak },
	RequirementActivitiesCount:  func(c Counters) int { return c.TotalActivities },
	RequirementProgressLogged:   func(c Counters) int { return c.Activities[ActivityProgressLogged] },
	RequirementWorkoutCompleted: func(c Counters) int { return c.Activities[ActivityWorkoutCompleted] },
	RequirementGoalSet:          func(c Counters) int { return c.Activities[ActivityGoalSet] },
}

// Known reports whether the requirement type has an evaluator.
func (r RequirementType) Known() bool {
	_, ok := requirementCounters[r]
	return ok
}

// Counter returns the counter value the requirement compares against.
func (r RequirementType) Counter(c Counters) (int, bool) {
	fn, ok := requirementCounters[r]
	if !ok {
		return 0, false
	}
	return fn(c), true
}

// Satisfied reports whether the counters meet threshold. Unknown types never satisfy.
func (r RequirementType) Satisfied(c Counters, threshold int) bool {
	value, ok := r.Counter(c)
	return ok && value >= threshold
}

// Achievement categories used by the default catalog.
const (
	CategoryStreak   = "streak"
	CategoryProgress = "progress"
	CategoryWorkout  = "workout"
	CategoryGoal     = "goal"
)

// Achievement is an immutable catalog entry.
type Achievement struct {
	ID               int64
	Name             string
	Description      string
	Icon             string
	Category         string
	RequirementType  RequirementType
	RequirementValue int
	Points           int
	CreatedAt        time.Time
}

// UnlockRecord marks that a user earned an achievement.
type UnlockRecord struct {
	ID            int64
	UserID        string
	AchievementID int64
	UnlockedAt    time.Time
	Achievement   *Achievement
}

// EvaluationResult lists achievements unlocked by a single evaluation pass.
type EvaluationResult struct {
	NewlyUnlocked []Achievement
	Count         int
}

// AchievementSummary aggregates a user's progress through the catalog.
type AchievementSummary struct {
	UserID            string
	TotalPoints       int
	UnlockedCount     int
	TotalCount        int
	CompletionPercent int
	ByCategory        map[string]int
}

// Summarize builds an AchievementSummary from the catalog and the user's unlocks.
func Summarize(userID string, catalog []Achievement, unlocked []UnlockRecord) AchievementSummary {
	byID := make(map[int64]Achievement, len(catalog))
	for _, a := range catalog {
		byID[a.ID] = a
	}

	summary := AchievementSummary{
		UserID:     userID,
		TotalCount: len(catalog),
		ByCategory: make(map[string]int),
	}
	for _, rec := range unlocked {
		a, ok := byID[rec.AchievementID]
		if !ok && rec.Achievement != nil {
			a, ok = *rec.Achievement, true
		}
		if !ok {
			continue
		}
		summary.UnlockedCount++
		summary.TotalPoints += a.Points
		summary.ByCategory[a.Category]++
	}
	if summary.TotalCount > 0 {
		// rounded half up
		summary.CompletionPercent = (summary.UnlockedCount*200 + summary.TotalCount) / (summary.TotalCount * 2)
	}
	return summary
}
