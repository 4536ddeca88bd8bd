package domain

import (
	"encoding/json"
	"time"
)

// ActivityType classifies an entry in the activity log.
type ActivityType string

const (
	ActivityProgressLogged   ActivityType = "progress_logged"
	ActivityWorkoutCompleted ActivityType = "workout_completed"
	ActivityGoalSet          ActivityType = "goal_set"
)

// ActivityTypes lists every accepted activity type.
var ActivityTypes = []ActivityType{ActivityProgressLogged, ActivityWorkoutCompleted, ActivityGoalSet}

// Valid reports whether t is one of ActivityTypes.
func (t ActivityType) Valid() bool {
	for _, known := range ActivityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ActivityEvent is one append-only record of user activity.
type ActivityEvent struct {
	ID           string
	UserID       string
	ActivityType ActivityType
	ActivityDate Date
	Metadata     json.RawMessage
	CreatedAt    time.Time
}

// ActivityCounts holds per-type totals of a user's activity log.
type ActivityCounts map[ActivityType]int

// Cursor models the activity history pagination token.
type Cursor struct {
	ActivityDate Date
	CreatedAt    time.Time
	ID           string
}
