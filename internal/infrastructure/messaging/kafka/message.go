package kafka

import (
	"context"
	"time"
)

// Message is the decoded representation of one inbound Kafka record handed
// to a registered MessageHandler.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string]string
}

// MessageHandler processes one inbound Message. An error return triggers the
// consumer's retry-then-dead-letter path.
type MessageHandler func(ctx context.Context, msg *Message) error
