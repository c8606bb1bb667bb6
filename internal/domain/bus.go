package domain

import (
	"context"
	"time"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels or NATS.
// Every message is scoped: either to a user ID or to GlobalScope.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, scope string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, scope string, topic string, handler MessageHandler) (Subscription, error)

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
	Scope     string            `json:"scope"`
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
	Type string `mapstructure:"type" json:"type"`

	// Channel settings
	ChannelBufferSize int `mapstructure:"channelbuffersize" json:"channelBufferSize"`

	// NATS settings
	NATSUrl           string `mapstructure:"natsurl" json:"natsUrl"`
	NATSToken         string `mapstructure:"natstoken" json:"-"`
	NATSMaxReconnects int    `mapstructure:"natsmaxreconnects" json:"natsMaxReconnects"`
	NATSReconnectWait int    `mapstructure:"natsreconnectwait" json:"natsReconnectWait"` // seconds
}

// GlobalScope is the bus scope for events that are not tied to one user.
const GlobalScope = "_global"

// Standard topic names.
const (
	TopicCardsChanged       = "harrier.cards.changed"
	TopicCatalogUpdated     = "harrier.catalog.updated"
	TopicEligibilityChecked = "harrier.eligibility.evaluated"
	TopicIssuerStatus       = "harrier.issuer.status"
)

// CardsChangedEvent is published whenever a user's card history changes.
type CardsChangedEvent struct {
	UserID string `json:"userId"`
	CardID string `json:"cardId"`
	Action string `json:"action"` // "saved", "deleted", "usage"
}

// CatalogUpdatedEvent is published when a new catalog snapshot is active.
type CatalogUpdatedEvent struct {
	Version  string `json:"version"`
	Rules    int    `json:"rules"`
	Products int    `json:"products"`
}

// IssuerStatusEvent carries a freshly recomputed issuer summary for one user.
type IssuerStatusEvent struct {
	UserID         string         `json:"userId"`
	CatalogVersion string         `json:"catalogVersion"`
	AsOf           time.Time      `json:"asOf"`
	Issuers        []IssuerStatus `json:"issuers"`
}
