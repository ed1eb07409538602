package pubsub

import (
	"context"
	"encoding/json"
)

// TopicTransformStats carries one event per completed transformation.
const TopicTransformStats = "transform_stats"

// Event represents a pub/sub event
type Event struct {
	Topic   string          `json:"topic"`   // Subscription topic (e.g., "transform_stats")
	Type    string          `json:"type"`    // Event type (e.g., "transformed", "aborted")
	Data    json.RawMessage `json:"data"`    // Event payload
	Version int             `json:"version"` // Version number for ordering
}

// Subscription represents a client subscription to a topic
type Subscription interface {
	// Topic returns the subscription topic
	Topic() string

	// Events returns a channel for receiving events
	Events() <-chan Event

	// Close closes the subscription
	Close() error
}

// Publisher manages pub/sub subscriptions and event publishing
type Publisher interface {
	// Subscribe creates a new subscription to a topic
	// Context cancellation will close the subscription
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Publish sends an event to all subscribers of a topic
	Publish(topic string, eventType string, data interface{}) error

	// Close shuts down the publisher and all subscriptions
	Close() error
}

// TransformNotice is the payload published on TopicTransformStats after
// each transformation handled by the sidecar.
type TransformNotice struct {
	RequestID string  `json:"request_id,omitempty"`
	Nodes     int     `json:"nodes"`
	Folded    int     `json:"folded"`
	Rewritten int     `json:"rewritten"`
	Pruned    int     `json:"pruned"`
	ElapsedMs float64 `json:"elapsed_ms"`
	Aborted   bool    `json:"aborted"`
}
