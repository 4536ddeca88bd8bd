package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const insertDLQ = `INSERT INTO outbox_dlq (event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, next_retry_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, NOW())`

// DLQWriter parks events whose delivery failed. Entries are due for retry immediately;
// the DLQ manager applies backoff from there.
type DLQWriter struct {
	pool *pgxpool.Pool
}

// NewDLQWriter initialises a writer backed by the provided connection pool.
func NewDLQWriter(pool *pgxpool.Pool) *DLQWriter {
	return &DLQWriter{pool: pool}
}

// Write stores every message of a failed batch in one round trip. The reason names the
// message's topic so mixed-topic batches stay traceable.
func (w *DLQWriter) Write(ctx context.Context, messages []Message, reason string) error {
	if len(messages) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, msg := range messages {
		batch.Queue(insertDLQ,
			msg.EventID, msg.EventType, msg.Topic, msg.Payload,
			fmt.Sprintf("%s (topic=%s)", reason, msg.Topic),
			msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey,
		)
	}

	if err := w.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write dlq: %w", err)
	}
	countByTopic(dlqCounter, messages)
	return nil
}
