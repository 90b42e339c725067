package changefeed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-workflow/internal/application/port"
)

// DefaultChannelPrefix namespaces change channels on a shared Redis
const DefaultChannelPrefix = "procurement:changes:"

// Redis is a cross-process change feed over Redis pub/sub. Subscribers in any server
// process sharing the Redis instance see every published change.
type Redis struct {
	client     *redis.Client
	logger     *zap.Logger
	prefix     string
	bufferSize int
	closed     atomic.Bool
}

// RedisOption configures the Redis feed
type RedisOption func(*Redis)

// WithChannelPrefix overrides DefaultChannelPrefix
func WithChannelPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithRedisBufferSize sets the per-subscriber channel capacity
func WithRedisBufferSize(n int) RedisOption {
	return func(r *Redis) {
		if n > 0 {
			r.bufferSize = n
		}
	}
}

// NewRedis creates a change feed on an existing client. Close does not close the client.
func NewRedis(client *redis.Client, logger *zap.Logger, opts ...RedisOption) *Redis {
	r := &Redis{
		client:     client,
		logger:     logger,
		prefix:     DefaultChannelPrefix,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) channel(table string) string {
	return r.prefix + table
}

// Publish sends a change to the table's Redis channel
func (r *Redis) Publish(ctx context.Context, change port.Change) error {
	if r.closed.Load() {
		return ErrClosed
	}
	payload, err := encode(change)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel(change.Table), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

// Subscribe streams changes for one table, or every table when table is empty
func (r *Redis) Subscribe(ctx context.Context, table string) (<-chan port.Change, func(), error) {
	if r.closed.Load() {
		return nil, nil, ErrClosed
	}
	topics, err := topicsFor(table)
	if err != nil {
		return nil, nil, err
	}

	channels := make([]string, len(topics))
	for i, t := range topics {
		channels[i] = r.channel(t)
	}

	pubsub := r.client.Subscribe(ctx, channels...)
	// wait for the subscription confirmation so no publish after return is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", strings.Join(channels, ","), err)
	}

	out := make(chan port.Change, r.bufferSize)
	done := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}

	go func() {
		defer close(out)
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				unsubscribe()
				return
			case <-done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				change, err := decode([]byte(msg.Payload))
				if err != nil {
					r.logger.Warn("Dropping malformed change notification", zap.Error(err), zap.String("channel", msg.Channel))
					continue
				}
				if !offer(out, change) {
					r.logger.Debug("Subscriber buffer full, change dropped", zap.String("table", change.Table))
				}
			}
		}
	}()

	return out, unsubscribe, nil
}

// Ping checks connectivity to Redis
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close rejects further publishes and subscriptions
func (r *Redis) Close() error {
	r.closed.Store(true)
	return nil
}

var _ port.ChangeNotifier = (*Redis)(nil)
