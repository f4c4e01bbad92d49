// Package bus fans storage events out to live subscribers. Subjects are
// dot-separated tokens; "*" matches one token and ">" matches the rest.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odvcencio/qaflow/pkg/config"
)

// ErrClosed is returned when operating on a closed bus or subscription.
var ErrClosed = errors.New("bus or subscription closed")

// MessageBus is a publish/subscribe transport.
// Implementations must be safe for concurrent use.
type MessageBus interface {
	// Publish sends a message to all subscribers of the given subject.
	// Returns immediately; does not wait for message delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject pattern.
	// Handlers for one subscription run sequentially in their own goroutine.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(msg *Message)

// Message represents an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	Unsubscribe() error
	Subject() string
}

// Options holds connection settings for networked backends.
type Options struct {
	URL     string
	Name    string
	Timeout time.Duration
}

// Open builds the bus selected by cfg.Driver.
func Open(cfg config.BusConfig) (MessageBus, error) {
	opts := Options{URL: cfg.URL, Name: "qaflow", Timeout: 10 * time.Second}
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryBus(), nil
	case "nats":
		return NewNATSBus(opts)
	case "redis":
		return NewRedisBus(opts)
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
	}
}

// ProjectSubject returns the subject prefix under which a project's events
// are published; subscribe to ProjectSubject(...)+".>" to receive them all.
func ProjectSubject(prefix, projectID string) string {
	return prefix + ".project." + projectID
}
