// Package consumer reads outbox events from Kafka and applies them to streak ledgers.
package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

// ErrPoisonMessage marks handler failures that retrying cannot fix. Such messages are committed.
var ErrPoisonMessage = errors.New("poison message")

const (
	defaultFetchBackoff    = 500 * time.Millisecond
	defaultRetryBackoff    = 200 * time.Millisecond
	defaultMaxRetryBackoff = 30 * time.Second
)

// Reader is the part of *kafka.Reader the processor drives.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler applies one decoded message.
type Handler interface {
	Handle(context.Context, Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(context.Context, Message) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger log.FieldLogger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithFetchBackoff sets the pause after a failed fetch.
func WithFetchBackoff(d time.Duration) Option {
	return func(p *Processor) {
		p.fetchBackoff = d
	}
}

// WithRetryBackoff sets the pause after a transient handler failure. It doubles per attempt up
// to ceiling.
func WithRetryBackoff(initial, ceiling time.Duration) Option {
	return func(p *Processor) {
		p.retryBackoff = initial
		if ceiling >= initial {
			p.maxRetryBackoff = ceiling
		}
	}
}

// Processor fetches, decodes and handles records one at a time, committing each record once it
// is settled. Malformed records and poison messages are committed without effect. A transient
// handler failure blocks the partition: the record is retried until it succeeds or ctx ends, so no
// later offset is ever committed past it.
type Processor struct {
	reader          Reader
	handler         Handler
	logger          log.FieldLogger
	fetchBackoff    time.Duration
	retryBackoff    time.Duration
	maxRetryBackoff time.Duration
}

// NewProcessor returns a Processor reading from reader.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:          reader,
		handler:         handler,
		logger:          log.WithField("component", "consumer"),
		fetchBackoff:    defaultFetchBackoff,
		retryBackoff:    defaultRetryBackoff,
		maxRetryBackoff: defaultMaxRetryBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes records until ctx is cancelled or the reader reports cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		rec, err := p.reader.FetchMessage(ctx)
		if errors.Is(err, context.Canceled) {
			return err
		}
		if err != nil {
			p.logger.Errorf("fetch error: %s", err)
			if !sleep(ctx, p.fetchBackoff) {
				break
			}
			continue
		}
		p.process(ctx, rec)
	}
	return ctx.Err()
}

func (p *Processor) process(ctx context.Context, rec kafka.Message) {
	msg, err := decodeMessage(rec)
	if err != nil {
		p.logger.WithFields(log.Fields{
			"topic":     rec.Topic,
			"partition": rec.Partition,
			"offset":    rec.Offset,
		}).Errorf("decode error: %s", err)
		recordDecodeError(rec.Topic)
		p.commit(ctx, rec)
		return
	}

	logger := p.logger.WithFields(log.Fields{
		"event_type": msg.EventType,
		"key":        msg.Key,
		"offset":     msg.Offset,
	})
	switch err := p.handle(ctx, logger, msg); {
	case err == nil:
		if p.commit(ctx, rec) {
			recordProcessed(msg)
		}
	case errors.Is(err, ErrPoisonMessage):
		logger.Warnf("skipping message: %s", err)
		recordSkipped(msg)
		p.commit(ctx, rec)
	default:
		// Only reached once ctx is done; the group resumes from the last committed offset.
		logger.Warnf("leaving message uncommitted: %s", err)
	}
}

// handle runs the handler until it succeeds, reports a poison message or ctx ends.
func (p *Processor) handle(ctx context.Context, logger log.FieldLogger, msg Message) error {
	backoff := p.retryBackoff
	for attempt := 1; ; attempt++ {
		err := p.handler.Handle(ctx, msg)
		if err == nil || errors.Is(err, ErrPoisonMessage) {
			return err
		}
		logger.WithField("attempt", attempt).Errorf("handler error: %s", err)
		recordHandlerError(msg)
		if !sleep(ctx, backoff) {
			return err
		}
		backoff = min(backoff*2, p.maxRetryBackoff)
	}
}

func (p *Processor) commit(ctx context.Context, rec kafka.Message) bool {
	if err := p.reader.CommitMessages(ctx, rec); err != nil {
		p.logger.Errorf("commit error: %s", err)
		return false
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
