// Package events defines the payloads published through the outbox.
package events

import (
	"encoding/json"
	"time"
)

// Event type names carried in the outbox and the event_type header.
const (
	TypeActivityLogged      = "activity.logged"
	TypeAchievementUnlocked = "achievement.unlocked"
)

// ActivityLogged is emitted when an activity is appended to the log.
type ActivityLogged struct {
	ActivityID   string          `json:"activity_id"`
	UserID       string          `json:"user_id"`
	ActivityType string          `json:"activity_type"`
	ActivityDate string          `json:"activity_date"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// AchievementUnlocked is emitted once per user and achievement.
type AchievementUnlocked struct {
	UserID        string    `json:"user_id"`
	AchievementID int64     `json:"achievement_id"`
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	Points        int       `json:"points"`
	UnlockedAt    time.Time `json:"unlocked_at"`
}
