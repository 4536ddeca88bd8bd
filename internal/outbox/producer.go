package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	producerBatchTimeout = 50 * time.Millisecond
	producerWriteTimeout = 10 * time.Second
)

// KafkaProducer keeps one synchronous writer per topic. Records are hashed by key, so all
// events of one user land on the same partition in outbox order.
type KafkaProducer struct {
	brokers []string

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer for brokers.
func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
	}
}

// WriteMessages writes msgs to topic and blocks until every broker replica acknowledged them.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	return p.writer(topic).WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: producerBatchTimeout,
		WriteTimeout: producerWriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.WithField("topic", topic).Errorf("kafka writer: "+msg, args...)
		}),
	}
	log.WithFields(log.Fields{"topic": topic, "brokers": p.brokers}).Debug("kafka writer created")
	p.writers[topic] = w
	return w
}

// Close flushes and closes every writer, returning all close errors.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	for topic, w := range p.writers {
		err = multierr.Append(err, w.Close())
		delete(p.writers, topic)
	}
	return err
}
