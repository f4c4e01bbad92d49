package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements MessageBus with Redis PUBLISH/PSUBSCRIBE.
type RedisBus struct {
	rdb    *redis.Client
	closed atomic.Bool
}

// NewRedisBus connects to the Redis server at opts.URL (redis://host:port/db).
func NewRedisBus(opts Options) (*RedisBus, error) {
	url := opts.URL
	if url == "" {
		url = "redis://127.0.0.1:6379/0"
	}
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	if opts.Name != "" {
		parsed.ClientName = opts.Name
	}
	if opts.Timeout > 0 {
		parsed.DialTimeout = opts.Timeout
	}

	rdb := redis.NewClient(parsed)
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBus{rdb: rdb}, nil
}

// NewRedisBusFromClient wraps an existing client.
func NewRedisBusFromClient(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

func (b *RedisBus) Publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.rdb.Publish(ctx, subject, data).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	ps := b.rdb.PSubscribe(ctx, redisPattern(subject))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis psubscribe %s: %w", subject, err)
	}

	sub := &redisSubscription{subject: subject, ps: ps}
	go func() {
		for msg := range ps.Channel() {
			// Redis globs are looser than subject wildcards.
			if matchSubject(subject, msg.Channel) {
				handler(&Message{Subject: msg.Channel, Data: []byte(msg.Payload)})
			}
		}
	}()
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			_ = sub.Unsubscribe()
		}()
	}
	return sub, nil
}

func (b *RedisBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	return b.rdb.Close()
}

type redisSubscription struct {
	subject string
	ps      *redis.PubSub
	once    sync.Once
	err     error
}

func (s *redisSubscription) Unsubscribe() error {
	s.once.Do(func() { s.err = s.ps.Close() })
	return s.err
}

func (s *redisSubscription) Subject() string {
	return s.subject
}

// redisPattern converts a subject pattern to a Redis glob that matches a
// superset of it.
func redisPattern(subject string) string {
	parts := strings.Split(subject, ".")
	for i, part := range parts {
		switch part {
		case "*":
		case ">":
			parts = append(parts[:i], "*")
			return strings.Join(parts, ".")
		default:
			parts[i] = globEscaper.Replace(part)
		}
	}
	return strings.Join(parts, ".")
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `?`, `\?`, `[`, `\[`, `]`, `\]`, `*`, `\*`)
