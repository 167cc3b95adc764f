package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
)

// ErrClosed is returned by a ChannelBus after Close.
var ErrClosed = errors.New("event bus closed")

// ChannelBus delivers messages in process. Every subscription owns a buffered
// channel drained by its own goroutine, so a slow handler only delays itself.
type ChannelBus struct {
	mu     sync.RWMutex
	buffer int
	topics map[string]map[*channelSubscription]struct{}
	closed bool
}

type channelSubscription struct {
	topic   string
	handler domain.MessageHandler
	inbox   chan *domain.Message
	done    context.CancelFunc
	bus     *ChannelBus
	once    sync.Once
}

// NewChannelBus gives each subscription a buffer of bufferSize messages,
// 1000 when bufferSize is not positive.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		buffer: bufferSize,
		topics: make(map[string]map[*channelSubscription]struct{}),
	}
}

// Publish fans the message out without blocking. A subscriber whose buffer
// is full misses it and the drop is counted.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	msg := newMessage(ctx, topic, payload)
	metrics.BusMessages.WithLabelValues(topic, "published").Inc()
	for sub := range b.topics[topic] {
		select {
		case sub.inbox <- msg:
		default:
			metrics.BusDropped.WithLabelValues(topic).Inc()
		}
	}
	return nil
}

// Subscribe starts a delivery goroutine that runs until the subscription is
// dropped, ctx ends or the bus closes.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		topic:   topic,
		handler: handler,
		inbox:   make(chan *domain.Message, b.buffer),
		done:    cancel,
		bus:     b,
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*channelSubscription]struct{})
	}
	b.topics[topic][sub] = struct{}{}

	go sub.deliver(subCtx)
	return sub, nil
}

func (s *channelSubscription) deliver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.inbox:
			dispatch(ctx, s.handler, msg)
		}
	}
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription. Buffered messages are discarded.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.topics {
		for sub := range subs {
			sub.done()
		}
	}
	clear(b.topics)
	return nil
}

func (b *ChannelBus) subscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Unsubscribe is idempotent.
func (s *channelSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.done()

		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs := b.topics[s.topic]; subs != nil {
			delete(subs, s)
			if len(subs) == 0 {
				delete(b.topics, s.topic)
			}
		}
	})
	return nil
}

func (s *channelSubscription) Topic() string {
	return s.topic
}
