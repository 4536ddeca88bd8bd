// Package outbox delivers events written alongside ledger changes to Kafka.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Header names set on every delivered record.
const (
	HeaderEventType     = "event_type"
	HeaderSchemaSubject = "schema_subject"
)

const defaultClaimLease = 30 * time.Second

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

type claimStore interface {
	claim(ctx context.Context, limit int, lease time.Duration) ([]Message, error)
	markPublished(ctx context.Context, ids []int64) error
}

type deadLetters interface {
	Write(ctx context.Context, messages []Message, reason string) error
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithClaimLease sets how long a claimed row stays invisible to other dispatchers before it is
// retried. It should comfortably exceed one batch's delivery time.
func WithClaimLease(lease time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if lease > 0 {
			d.claimLease = lease
		}
	}
}

// Dispatcher polls the outbox and publishes claimed events, one Kafka batch per topic.
// Topics that fail are parked in the DLQ while the rest of the batch is still published.
type Dispatcher struct {
	store      claimStore
	producer   messageWriter
	registry   schemaRegistrar
	dlq        deadLetters
	interval   time.Duration
	batchSize  int
	claimLease time.Duration
	now        func() time.Time

	schemaMu  sync.RWMutex
	schemaIDs map[string]int

	done chan struct{}
}

// NewDispatcher wires a Dispatcher to the outbox tables in pool.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, interval time.Duration, batchSize int, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:      pgStore{pool: pool},
		producer:   producer,
		registry:   registry,
		dlq:        NewDLQWriter(pool),
		interval:   interval,
		batchSize:  batchSize,
		claimLease: defaultClaimLease,
		now:        func() time.Time { return time.Now().UTC() },
		schemaIDs:  make(map[string]int),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run dispatches until ctx is cancelled. A full batch is followed immediately by the next one.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		claimed, err := d.processBatch(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("outbox dispatcher: %s", err)
		}
		if err == nil && claimed == d.batchSize {
			timer.Reset(0)
			continue
		}
		timer.Reset(d.interval)
	}
}

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// processBatch claims up to batchSize rows and settles every one of them: delivered rows and
// rows moved to the DLQ are both marked published. It reports how many rows were claimed.
func (d *Dispatcher) processBatch(ctx context.Context) (int, error) {
	start := time.Now()
	claimed, err := d.store.claim(ctx, d.batchSize, d.claimLease)
	if err != nil {
		return 0, fmt.Errorf("claim: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	delivered, failed, deliverErr := d.deliver(ctx, claimed)
	if len(delivered) > 0 {
		countByTopic(deliveredCounter, delivered)
		if err := d.store.markPublished(ctx, eventIDs(delivered)); err != nil {
			return len(claimed), fmt.Errorf("mark delivered: %w", err)
		}
	}
	if len(failed) == 0 {
		return len(claimed), nil
	}

	log.WithFields(log.Fields{
		"claimed": len(claimed),
		"failed":  len(failed),
	}).Errorf("outbox: delivery failure: %s", deliverErr)
	countByTopic(failedCounter, failed)

	// Rows stay claimed when the DLQ write fails and are picked up again after the lease.
	if err := d.dlq.Write(ctx, failed, deliverErr.Error()); err != nil {
		return len(claimed), err
	}
	if err := d.store.markPublished(ctx, eventIDs(failed)); err != nil {
		return len(claimed), fmt.Errorf("mark dead-lettered: %w", err)
	}
	return len(claimed), nil
}

// deliver writes messages grouped by topic in first-seen order, preserving outbox order within
// each topic. A topic whose records cannot be built or written lands in failed as a whole.
func (d *Dispatcher) deliver(ctx context.Context, messages []Message) (delivered, failed []Message, err error) {
	var topics []string
	byTopic := make(map[string][]Message)
	for _, msg := range messages {
		if _, seen := byTopic[msg.Topic]; !seen {
			topics = append(topics, msg.Topic)
		}
		byTopic[msg.Topic] = append(byTopic[msg.Topic], msg)
	}

	for _, topic := range topics {
		batch := byTopic[topic]
		if topicErr := d.publishTopic(ctx, topic, batch); topicErr != nil {
			err = multierr.Append(err, fmt.Errorf("topic %s: %w", topic, topicErr))
			failed = append(failed, batch...)
			continue
		}
		delivered = append(delivered, batch...)
	}
	return delivered, failed, err
}

func (d *Dispatcher) publishTopic(ctx context.Context, topic string, batch []Message) error {
	records := make([]kafka.Message, 0, len(batch))
	for _, msg := range batch {
		schemaID, err := d.schemaID(ctx, msg)
		if err != nil {
			return err
		}
		records = append(records, kafka.Message{
			Key:   []byte(msg.PartitionKey),
			Value: encodeWireFormat(schemaID, msg.Payload),
			Headers: []kafka.Header{
				{Key: HeaderEventType, Value: []byte(msg.EventType)},
				{Key: HeaderSchemaSubject, Value: []byte(msg.SchemaSubject)},
			},
			Time: d.now(),
		})
	}
	return d.producer.WriteMessages(ctx, topic, records...)
}

// schemaID resolves and memoises the registry id of msg's subject.
func (d *Dispatcher) schemaID(ctx context.Context, msg Message) (int, error) {
	schema, ok := jsonSchemas[msg.EventType]
	if !ok {
		return 0, fmt.Errorf("no schema metadata for event_type=%s", msg.EventType)
	}

	d.schemaMu.RLock()
	id, cached := d.schemaIDs[msg.SchemaSubject]
	d.schemaMu.RUnlock()
	if cached {
		return id, nil
	}

	id, err := d.registry.EnsureSchema(ctx, msg.SchemaSubject, schema)
	if err != nil {
		return 0, err
	}
	d.schemaMu.Lock()
	d.schemaIDs[msg.SchemaSubject] = id
	d.schemaMu.Unlock()
	return id, nil
}
