package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

const (
	quarantineReason  = "retry limit reached"
	defaultMaxRetries = 5
	maxBackoff        = time.Hour
)

// dlqEntry is an outbox_dlq row due for another attempt.
type dlqEntry struct {
	ID            int64  `db:"dlq_id"`
	EventID       int64  `db:"event_id"`
	EventType     string `db:"event_type"`
	Topic         string `db:"topic"`
	Payload       []byte `db:"payload"`
	Reason        string `db:"reason"`
	AggregateType string `db:"aggregate_type"`
	AggregateID   string `db:"aggregate_id"`
	SchemaSubject string `db:"schema_subject"`
	PartitionKey  string `db:"partition_key"`
	RetryCount    int    `db:"retry_count"`
}

// The row stays locked until its transaction settles it, so managers running side by side
// never handle the same entry.
const nextDueDLQ = `SELECT dlq_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count
    FROM outbox_dlq
    WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
    ORDER BY created_at, event_id
    LIMIT 1
    FOR UPDATE SKIP LOCKED`

// DLQManager replays dead-lettered events into the outbox and quarantines the ones that keep failing.
type DLQManager struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
}

// NewDLQManager returns a manager. Non-positive settings fall back to five retries and a one
// minute base delay.
func NewDLQManager(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	return &DLQManager{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay}
}

// RunOnce settles up to limit due entries and returns how many it requeued, rescheduled or
// quarantined. It stops at the first error.
func (m *DLQManager) RunOnce(ctx context.Context, limit int) (int, error) {
	defer updateBacklogGauge(ctx, m.pool)

	settled := 0
	for settled < limit {
		found, err := m.settleNext(ctx)
		if err != nil {
			return settled, err
		}
		if !found {
			break
		}
		settled++
	}
	return settled, nil
}

func (m *DLQManager) settleNext(ctx context.Context) (bool, error) {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, nextDueDLQ)
	if err != nil {
		return false, err
	}
	entry, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[dlqEntry])
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read dlq entry: %w", err)
	}

	logger := log.WithFields(log.Fields{
		"dlq_id":     entry.ID,
		"event_id":   entry.EventID,
		"event_type": entry.EventType,
		"retries":    entry.RetryCount,
	})

	if entry.RetryCount >= m.maxRetries {
		if _, err := tx.Exec(ctx, `UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`, quarantineReason, entry.ID); err != nil {
			return true, err
		}
		if err := tx.Commit(ctx); err != nil {
			return true, err
		}
		logger.WithField("last_error", entry.Reason).Warn("dlq entry quarantined")
		recordDLQOutcome(entry, dlqOutcomeQuarantined)
		return true, nil
	}

	if requeueErr := requeue(ctx, tx, entry); requeueErr != nil {
		// The failed insert aborted tx; the retry bookkeeping runs on its own.
		_ = tx.Rollback(ctx)
		logger.Warnf("dlq requeue failed: %s", requeueErr)
		return true, m.scheduleRetry(ctx, entry, requeueErr)
	}
	if err := tx.Commit(ctx); err != nil {
		return true, err
	}
	logger.Info("dlq entry requeued")
	recordDLQOutcome(entry, dlqOutcomeRequeued)
	return true, nil
}

// requeue moves entry back into the outbox within tx. The original row is reopened so the event
// keeps its place ahead of later events for the same key; a fresh row is inserted only when the
// original is gone.
func requeue(ctx context.Context, tx pgx.Tx, entry dlqEntry) error {
	if entry.SchemaSubject == "" {
		return fmt.Errorf("dlq entry %d has no schema subject", entry.ID)
	}
	tag, err := tx.Exec(ctx,
		`UPDATE outbox SET published_at = NULL, claimed_at = NULL WHERE event_id = $1 AND topic = $2`,
		entry.EventID, entry.Topic,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := tx.Exec(ctx,
			`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
             VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			entry.AggregateType, entry.AggregateID, entry.EventType, entry.Topic,
			entry.SchemaSubject, entry.PartitionKey, entry.Payload,
		); err != nil {
			return err
		}
	}
	_, err = tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID)
	return err
}

func (m *DLQManager) scheduleRetry(ctx context.Context, entry dlqEntry, cause error) error {
	delay := m.backoffDelay(entry.RetryCount + 1)
	if _, err := m.pool.Exec(ctx,
		`UPDATE outbox_dlq
            SET retry_count = retry_count + 1,
                last_attempt_at = NOW(),
                next_retry_at = NOW() + $1::interval,
                reason = $2
          WHERE dlq_id = $3`,
		delay, cause.Error(), entry.ID,
	); err != nil {
		return err
	}
	recordDLQOutcome(entry, dlqOutcomeRetry)
	return nil
}

// backoffDelay doubles baseDelay per attempt, capped at maxBackoff.
func (m *DLQManager) backoffDelay(attempt int) time.Duration {
	delay := m.baseDelay
	for i := 1; i < attempt && delay < maxBackoff; i++ {
		delay *= 2
	}
	return min(delay, maxBackoff)
}
