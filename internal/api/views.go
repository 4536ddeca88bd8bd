package api

import (
	"encoding/json"
	"time"

	"example.com/gamification/internal/domain"
)

// LogActivityRequest is the payload for POST /v1/activities.
type LogActivityRequest struct {
	UserID       string          `json:"userId" validate:"required"`
	ActivityType string          `json:"activityType" validate:"required"`
	ActivityDate string          `json:"activityDate" validate:"required,datetime=2006-01-02"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// CheckStreakRequest is the payload for POST /v1/streaks/check.
type CheckStreakRequest struct {
	UserID       string `json:"userId" validate:"required"`
	ActivityDate string `json:"activityDate" validate:"required,datetime=2006-01-02"`
}

// CheckAchievementsRequest is the payload for POST /v1/achievements/check.
type CheckAchievementsRequest struct {
	UserID string `json:"userId" validate:"required"`
}

// ActivityView is one activity log entry.
type ActivityView struct {
	ActivityID   string          `json:"activityId"`
	UserID       string          `json:"userId"`
	ActivityType string          `json:"activityType"`
	ActivityDate domain.Date     `json:"activityDate"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// LogActivityResponse carries the stored activity and, in inline mode, the resulting progress.
type LogActivityResponse struct {
	Activity             ActivityView      `json:"activity"`
	Streak               *StreakView       `json:"streak,omitempty"`
	UnlockedAchievements []AchievementView `json:"unlockedAchievements,omitempty"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

// StreakView exposes a streak ledger with its motivation line.
type StreakView struct {
	UserID           string       `json:"userId"`
	CurrentStreak    int          `json:"currentStreak"`
	LongestStreak    int          `json:"longestStreak"`
	LastActivityDate *domain.Date `json:"lastActivityDate"`
	TotalActivities  int          `json:"totalActivities"`
	Motivation       string       `json:"motivation"`
}

// CheckStreakResponse reports the ledger after recording an activity day.
type CheckStreakResponse struct {
	Streak  StreakView `json:"streak"`
	Outcome string     `json:"outcome"`
}

// AchievementView is a catalog entry.
type AchievementView struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	Icon             string `json:"icon"`
	Category         string `json:"category"`
	RequirementType  string `json:"requirementType"`
	RequirementValue int    `json:"requirementValue"`
	Points           int    `json:"points"`
}

// EvaluateResponse lists achievements unlocked by one evaluation pass.
type EvaluateResponse struct {
	UnlockedAchievements []AchievementView `json:"unlockedAchievements"`
	TotalUnlocked        int               `json:"totalUnlocked"`
}

// UnlockView is an achievement the user has earned.
type UnlockView struct {
	ID            int64            `json:"id"`
	AchievementID int64            `json:"achievementId"`
	UnlockedAt    time.Time        `json:"unlockedAt"`
	Achievement   *AchievementView `json:"achievement,omitempty"`
}

// SummaryView aggregates the user's achievement progress.
type SummaryView struct {
	UserID            string         `json:"userId"`
	TotalPoints       int            `json:"totalPoints"`
	UnlockedCount     int            `json:"unlockedCount"`
	TotalCount        int            `json:"totalCount"`
	CompletionPercent int            `json:"completionPercent"`
	ByCategory        map[string]int `json:"byCategory"`
}

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	Rank            int    `json:"rank"`
	UserID          string `json:"userId"`
	CurrentStreak   int    `json:"currentStreak"`
	LongestStreak   int    `json:"longestStreak"`
	TotalActivities int    `json:"totalActivities"`
}

// LeaderboardResponse is the ranked list for one metric.
type LeaderboardResponse struct {
	Type    string             `json:"type"`
	Entries []LeaderboardEntry `json:"entries"`
}

func toActivityView(event domain.ActivityEvent) ActivityView {
	return ActivityView{
		ActivityID:   event.ID,
		UserID:       event.UserID,
		ActivityType: string(event.ActivityType),
		ActivityDate: event.ActivityDate,
		Metadata:     event.Metadata,
		CreatedAt:    event.CreatedAt,
	}
}

func toStreakView(ledger domain.StreakLedger) StreakView {
	return StreakView{
		UserID:           ledger.UserID,
		CurrentStreak:    ledger.CurrentStreak,
		LongestStreak:    ledger.LongestStreak,
		LastActivityDate: ledger.LastActivityDate,
		TotalActivities:  ledger.TotalActivities,
		Motivation:       domain.Motivation(ledger.CurrentStreak),
	}
}

func toAchievementView(a domain.Achievement) AchievementView {
	return AchievementView{
		ID:               a.ID,
		Name:             a.Name,
		Description:      a.Description,
		Icon:             a.Icon,
		Category:         a.Category,
		RequirementType:  string(a.RequirementType),
		RequirementValue: a.RequirementValue,
		Points:           a.Points,
	}
}

func toAchievementViews(entries []domain.Achievement) []AchievementView {
	views := make([]AchievementView, 0, len(entries))
	for _, a := range entries {
		views = append(views, toAchievementView(a))
	}
	return views
}

func toUnlockView(rec domain.UnlockRecord) UnlockView {
	view := UnlockView{
		ID:            rec.ID,
		AchievementID: rec.AchievementID,
		UnlockedAt:    rec.UnlockedAt,
	}
	if rec.Achievement != nil {
		a := toAchievementView(*rec.Achievement)
		view.Achievement = &a
	}
	return view
}
