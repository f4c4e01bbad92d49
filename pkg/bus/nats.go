package bus

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus implements MessageBus using core NATS subjects.
type NATSBus struct {
	conn   *nats.Conn
	closed atomic.Bool
}

// NewNATSBus connects to the NATS server at opts.URL.
func NewNATSBus(opts Options) (*NATSBus, error) {
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}

	conn, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.Timeout(opts.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSBus{conn: conn}, nil
}

// NewNATSBusFromConn wraps an existing connection.
func NewNATSBusFromConn(conn *nats.Conn) *NATSBus {
	return &NATSBus{conn: conn}
}

func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.conn.Publish(subject, data)
}

func (b *NATSBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{Subject: msg.Subject, Data: msg.Data})
	})
	if err != nil {
		return nil, err
	}

	ns := &natsSubscription{sub: sub}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			_ = ns.Unsubscribe()
		}()
	}
	return ns, nil
}

func (b *NATSBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	b.conn.Close()
	return nil
}

// Conn returns the underlying NATS connection.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

// natsSubscription wraps a NATS subscription.
type natsSubscription struct {
	sub  *nats.Subscription
	done atomic.Bool
}

func (s *natsSubscription) Unsubscribe() error {
	if s.done.Swap(true) {
		return nil
	}
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Subject() string {
	return s.sub.Subject
}
