package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `yaml:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `yaml:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `yaml:"natsUrl"`
	NATSToken         string `yaml:"natsToken"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait"` // seconds

	// NATSQueueGroup, when set, load-balances each topic across instances.
	NATSQueueGroup string `yaml:"natsQueueGroup"`
}

// Topic names for the batch pipeline.
const (
	TopicBatchSubmitted = "harrier.batch.submitted"
	TopicBatchCompleted = "harrier.batch.completed"
	TopicAlert          = "harrier.alert"
)

// BatchSubmission is the payload published on TopicBatchSubmitted.
type BatchSubmission struct {
	BatchID      string        `json:"batchId"`
	Transactions []Transaction `json:"transactions"`
}

// BatchCompletion is the payload published on TopicBatchCompleted.
type BatchCompletion struct {
	BatchSummary
	Error string `json:"error,omitempty"`
}

// Alert is the payload published on TopicAlert for every FRAUD result.
type Alert struct {
	BatchID string            `json:"batchId"`
	Result  ScoredTransaction `json:"result"`
}
