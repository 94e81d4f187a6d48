// Package events publishes marketplace notifications through a
// broker-agnostic backend. Publishing is best-effort: moderation and
// review commits never depend on the broker being reachable.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/servicehub/apiserver/config"
	"github.com/servicehub/apiserver/types"
)

// Channels carrying marketplace events.
const (
	ChannelServiceModerated = "service.moderated"
	ChannelReviewCreated    = "review.created"
)

// ServiceModerated is emitted when an admin approves or rejects a
// listing.
type ServiceModerated struct {
	ServiceID  int                  `json:"service_id"`
	ProviderID int                  `json:"provider_id"`
	Status     types.ApprovalStatus `json:"status"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// ReviewCreated is emitted after a review and its rating aggregate have
// committed.
type ReviewCreated struct {
	ReviewID   int       `json:"review_id"`
	ServiceID  int       `json:"service_id"`
	AuthorID   int       `json:"author_id"`
	Rating     int       `json:"rating"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// Bus wraps a backend with typed marketplace publishes. A nil Bus is
// valid and drops every publish, so callers need no broker to run.
type Bus struct {
	backend Backend
}

// NewBus constructs a Bus for the provided backend.
func NewBus(backend Backend) *Bus {
	return &Bus{backend: backend}
}

// PublishServiceModerated emits a moderation decision.
func (b *Bus) PublishServiceModerated(ctx context.Context, event ServiceModerated) error {
	return b.publish(ctx, ChannelServiceModerated, event)
}

// PublishReviewCreated emits a committed review.
func (b *Bus) PublishReviewCreated(ctx context.Context, event ReviewCreated) error {
	return b.publish(ctx, ChannelReviewCreated, event)
}

// Subscribe consumes messages from the named channel.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if b == nil || b.backend == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return b.backend.Subscribe(ctx, channel, handler)
}

// Close closes the underlying backend.
func (b *Bus) Close() error {
	if b == nil || b.backend == nil {
		return nil
	}
	return b.backend.Close()
}

// NewBusFromConfig builds the configured broker backend. An empty
// driver disables eventing and returns a nil Bus, which is valid.
func NewBusFromConfig(ctx context.Context, cfg config.MQConfig) (*Bus, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case "rabbitmq":
		backend, err := NewRabbitMQClient(cfg.RabbitMQURL)
		if err != nil {
			return nil, err
		}
		return NewBus(backend), nil
	case "pubsub":
		backend, err := NewPubSubClient(ctx, cfg.PubSubProject)
		if err != nil {
			return nil, err
		}
		return NewBus(backend), nil
	default:
		return nil, fmt.Errorf("unknown mq driver %q", cfg.Driver)
	}
}

func (b *Bus) publish(ctx context.Context, channel string, event any) error {
	if b == nil || b.backend == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = b.backend.Publish(ctx, channel, data, map[string]string{"channel": channel})
	return err
}
