// Package bus moves serialized events between services with at-least-once
// delivery. Handlers must tolerate duplicates.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const DefaultPublishTimeout = 5 * time.Second

var (
	// ErrPublish matches every error returned by Publish
	ErrPublish = errors.New("publish failed")
	ErrClosed  = errors.New("bus closed")
)

// Message is one delivery of a published event
type Message struct {
	ID        string
	Topic     string
	Body      []byte
	Attempts  uint16 // 1 on first delivery
	Timestamp time.Time
}

// Handler processes a message. Returning an error asks for redelivery;
// returning nil acknowledges it.
type Handler func(ctx context.Context, m *Message) error

type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, topic string, event any) error

func (f PublisherFunc) Publish(ctx context.Context, topic string, event any) error {
	return f(ctx, topic, event)
}

type Subscription interface {
	// Stop ends delivery and waits for an in-flight handler to return
	Stop()
}

type Subscriber interface {
	// Subscribe attaches h to channel on topic. Subscribers sharing a channel
	// compete for messages; every channel gets its own copy of each message.
	Subscribe(topic, channel string, h Handler) (Subscription, error)
}

type Bus interface {
	Publisher
	Subscriber
	Ping() error
	Close() error
}

// PublishError reports a publish that the broker did not acknowledge
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

func (e *PublishError) Is(target error) bool { return target == ErrPublish }

// Encode serializes event as JSON. Byte slices and raw JSON pass through.
func Encode(event any) ([]byte, error) {
	switch v := event.(type) {
	case nil:
		return nil, errors.New("nil event")
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}
