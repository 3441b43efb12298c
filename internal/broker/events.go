package appkafka

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

type EventType string

const (
	PostCreated EventType = "post_created"
	PostUpdated EventType = "post_updated"
	PostDeleted EventType = "post_deleted"
)

// ContentEvent announces a committed post mutation. Origin is the instance
// that performed it and has already invalidated its own cache.
type ContentEvent struct {
	Type   EventType `json:"type"`
	PostID int64     `json:"post_id"`
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}

// Publisher sends content events.
type Publisher interface {
	Publish(e ContentEvent) error
}

// EventPublisher encodes events as JSON Kafka messages keyed by post id.
type EventPublisher struct {
	Writer KafkaWriter
}

func (p *EventPublisher) Publish(e ContentEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.Writer.WriteMessages(kafka.Message{
		Key:   []byte(strconv.FormatInt(e.PostID, 10)),
		Value: data,
	})
}

// DecodeEvent parses a message written by EventPublisher.
func DecodeEvent(msg kafka.Message) (ContentEvent, error) {
	var e ContentEvent
	err := json.Unmarshal(msg.Value, &e)
	return e, err
}
