package outbox

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Message is an outbox row claimed for delivery.
type Message struct {
	EventID       int64           `db:"event_id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Topic         string          `db:"topic"`
	SchemaSubject string          `db:"schema_subject"`
	PartitionKey  string          `db:"partition_key"`
	Payload       json.RawMessage `db:"payload"`
}

func eventIDs(messages []Message) []int64 {
	ids := make([]int64, len(messages))
	for i, msg := range messages {
		ids[i] = msg.EventID
	}
	return ids
}

// A claim marks rows so concurrent dispatchers skip them. Rows whose claim is older than the
// lease are considered abandoned by a crashed dispatcher and become claimable again.
//
// Events sharing a topic and partition key are delivered in event_id order: a row is held back
// while an older row for the same key is claimed by someone else or parked in the DLQ.
const claimOutbox = `WITH due AS (
        SELECT o.event_id FROM outbox o
        WHERE o.published_at IS NULL
          AND (o.claimed_at IS NULL OR o.claimed_at < NOW() - $2::interval)
          AND NOT EXISTS (
              SELECT 1 FROM outbox prev
              WHERE prev.topic = o.topic AND prev.partition_key = o.partition_key
                AND prev.event_id < o.event_id
                AND prev.published_at IS NULL
                AND prev.claimed_at >= NOW() - $2::interval)
          AND NOT EXISTS (
              SELECT 1 FROM outbox_dlq d
              WHERE d.topic = o.topic AND d.partition_key = o.partition_key
                AND d.event_id < o.event_id
                AND d.quarantined_at IS NULL)
        ORDER BY o.event_id
        LIMIT $1
        FOR UPDATE OF o SKIP LOCKED
    )
    UPDATE outbox o SET claimed_at = NOW()
    FROM due
    WHERE o.event_id = due.event_id
    RETURNING o.event_id, o.aggregate_type, o.aggregate_id, o.event_type, o.topic, o.schema_subject, o.partition_key, o.payload`

// Claims are serialised so two dispatchers never split one key's rows between them.
const claimLockKey int64 = 0x6f7574626f78

type pgStore struct {
	pool *pgxpool.Pool
}

func (s pgStore) claim(ctx context.Context, limit int, lease time.Duration) ([]Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, claimLockKey); err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, claimOutbox, limit, lease)
	if err != nil {
		return nil, err
	}
	claimed, err := pgx.CollectRows(rows, pgx.RowToStructByName[Message])
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	// RETURNING does not keep the CTE order.
	slices.SortFunc(claimed, func(a, b Message) int { return cmp.Compare(a.EventID, b.EventID) })
	return claimed, nil
}

func (s pgStore) markPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids)
	return err
}
