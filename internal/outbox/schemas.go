package outbox

import (
	"encoding/binary"

	"example.com/gamification/internal/events"
)

// confluentMagic prefixes every framed value, followed by the 4-byte schema id.
const confluentMagic byte = 0

var jsonSchemas = map[string]string{
	events.TypeActivityLogged:      activityLoggedSchema,
	events.TypeAchievementUnlocked: achievementUnlockedSchema,
}

// encodeWireFormat frames payload the way Schema Registry aware consumers expect.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 0, 5+len(payload))
	frame = append(frame, confluentMagic)
	frame = binary.BigEndian.AppendUint32(frame, uint32(schemaID))
	return append(frame, payload...)
}

const activityLoggedSchema = `{
  "type": "object",
  "title": "ActivityLogged",
  "properties": {
    "activity_id": {"type": "string"},
    "user_id": {"type": "string"},
    "activity_type": {"type": "string", "enum": ["progress_logged", "workout_completed", "goal_set"]},
    "activity_date": {"type": "string", "format": "date"},
    "metadata": {},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "user_id", "activity_type", "activity_date", "occurred_at"],
  "additionalProperties": false
}`

const achievementUnlockedSchema = `{
  "type": "object",
  "title": "AchievementUnlocked",
  "properties": {
    "user_id": {"type": "string"},
    "achievement_id": {"type": "integer"},
    "name": {"type": "string"},
    "category": {"type": "string"},
    "points": {"type": "integer"},
    "unlocked_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "achievement_id", "name", "category", "points", "unlocked_at"],
  "additionalProperties": false
}`
