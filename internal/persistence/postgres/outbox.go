package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/gamification/internal/events"
)

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	events.TypeActivityLogged: {
		Topic:         "activity_logged",
		SchemaSubject: "activity_logged-value",
	},
	events.TypeAchievementUnlocked: {
		Topic:         "achievement_unlocked",
		SchemaSubject: "achievement_unlocked-value",
	},
}

// LookupEvent returns routing metadata for eventType.
func LookupEvent(eventType string) (EventMetadata, bool) {
	meta, ok := eventCatalog[eventType]
	return meta, ok
}

type outboxRecord struct {
	AggregateType string
	AggregateID   string
	EventType     string
	UserID        string
	Payload       any
}

// insertOutbox writes the event inside tx. Events are partitioned by user so a consumer sees
// one user's events in order.
func insertOutbox(ctx context.Context, tx pgx.Tx, rec outboxRecord) error {
	body, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[rec.EventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", rec.EventType)
	}

	dedupeKey := fmt.Sprintf("%s:%s:%s", rec.AggregateType, rec.AggregateID, rec.EventType)

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		rec.AggregateType,
		rec.AggregateID,
		rec.EventType,
		meta.Topic,
		meta.SchemaSubject,
		rec.UserID,
		body,
		dedupeKey,
	)
	return err
}
