package changefeed

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-workflow/internal/application/port"
)

const topicPrefix = "changes."

// Memory is an in-process change feed backed by a watermill Go channel pub/sub
type Memory struct {
	pubsub     *gochannel.GoChannel
	logger     *zap.Logger
	bufferSize int
	closed     atomic.Bool
	dropped    atomic.Int64
}

// MemoryOption configures the in-process feed
type MemoryOption func(*Memory)

// WithBufferSize sets the per-subscriber channel capacity
func WithBufferSize(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.bufferSize = n
		}
	}
}

// NewMemory creates an in-process change feed
func NewMemory(logger *zap.Logger, opts ...MemoryOption) *Memory {
	m := &Memory{
		logger:     logger,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.pubsub = gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            int64(m.bufferSize),
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		NewWatermillLogger(logger),
	)
	return m
}

// Publish broadcasts a change to current subscribers of its table
func (m *Memory) Publish(ctx context.Context, change port.Change) error {
	if m.closed.Load() {
		return ErrClosed
	}
	payload, err := encode(change)
	if err != nil {
		return err
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("table", change.Table)
	msg.Metadata.Set("op", change.Op)
	return m.pubsub.Publish(topicPrefix+change.Table, msg)
}

// Subscribe streams changes for one table, or every table when table is empty
func (m *Memory) Subscribe(ctx context.Context, table string) (<-chan port.Change, func(), error) {
	if m.closed.Load() {
		return nil, nil, ErrClosed
	}
	topics, err := topicsFor(table)
	if err != nil {
		return nil, nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan port.Change, m.bufferSize)

	var wg sync.WaitGroup
	for _, topic := range topics {
		messages, err := m.pubsub.Subscribe(subCtx, topicPrefix+topic)
		if err != nil {
			cancel()
			wg.Wait()
			close(out)
			return nil, nil, err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			m.forward(messages, out)
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	var once sync.Once
	unsubscribe := func() { once.Do(cancel) }
	return out, unsubscribe, nil
}

func (m *Memory) forward(messages <-chan *message.Message, out chan<- port.Change) {
	for msg := range messages {
		msg.Ack()
		change, err := decode(msg.Payload)
		if err != nil {
			m.logger.Warn("Dropping malformed change notification", zap.Error(err), zap.String("message_id", msg.UUID))
			continue
		}
		if !offer(out, change) {
			m.dropped.Add(1)
			m.logger.Debug("Subscriber buffer full, change dropped",
				zap.String("table", change.Table),
				zap.String("row_id", change.RowID),
			)
		}
	}
}

// Dropped returns how many changes were discarded because a subscriber was full
func (m *Memory) Dropped() int64 {
	return m.dropped.Load()
}

// Close stops the feed and closes every subscription channel
func (m *Memory) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	return m.pubsub.Close()
}

var _ port.ChangeNotifier = (*Memory)(nil)
