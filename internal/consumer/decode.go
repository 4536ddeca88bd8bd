package consumer

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Record headers written by the outbox dispatcher.
const (
	headerEventType     = "event_type"
	headerSchemaSubject = "schema_subject"
)

const frameHeaderLen = 5

var errMalformed = errors.New("malformed record")

// Message is a Kafka record with its Schema Registry frame removed.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Key           string
	Timestamp     time.Time
	EventType     string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// decodeMessage unwraps the magic byte and schema id. Records without an event_type header
// cannot be routed and are rejected.
func decodeMessage(rec kafka.Message) (Message, error) {
	if len(rec.Value) < frameHeaderLen {
		return Message{}, fmt.Errorf("%w: %d byte value", errMalformed, len(rec.Value))
	}
	if magic := rec.Value[0]; magic != 0 {
		return Message{}, fmt.Errorf("%w: unknown magic byte %d", errMalformed, magic)
	}

	msg := Message{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       string(rec.Key),
		Timestamp: rec.Time,
		SchemaID:  int(binary.BigEndian.Uint32(rec.Value[1:frameHeaderLen])),
		Payload:   json.RawMessage(append([]byte(nil), rec.Value[frameHeaderLen:]...)),
	}
	for _, h := range rec.Headers {
		switch h.Key {
		case headerEventType:
			msg.EventType = string(h.Value)
		case headerSchemaSubject:
			msg.SchemaSubject = string(h.Value)
		}
	}
	if msg.EventType == "" {
		return Message{}, fmt.Errorf("%w: missing %s header", errMalformed, headerEventType)
	}
	return msg, nil
}
