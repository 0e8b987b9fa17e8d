package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/taskmesh/internal/logging"
	"github.com/austindbirch/taskmesh/internal/metrics"
	"github.com/austindbirch/taskmesh/internal/tracing"
)

// Memory is an in-process Bus with NSQ's topic/channel semantics. A failed
// message goes back to the head of its channel, so a single subscriber sees
// messages in publish order.
type Memory struct {
	mu           sync.Mutex
	topics       map[string]*memTopic
	closed       bool
	maxAttempts  uint16
	requeueDelay time.Duration
	logger       *logging.Logger
	subs         []*memSubscription
}

type MemoryOption func(*Memory)

// WithMaxAttempts drops a message after n failed deliveries. 0 never drops.
func WithMaxAttempts(n uint16) MemoryOption {
	return func(m *Memory) { m.maxAttempts = n }
}

// WithRequeueDelay pauses a subscriber before it retries a failed message
func WithRequeueDelay(d time.Duration) MemoryOption {
	return func(m *Memory) { m.requeueDelay = d }
}

func WithMemoryLogger(l *logging.Logger) MemoryOption {
	return func(m *Memory) { m.logger = l }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		topics: make(map[string]*memTopic),
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type memTopic struct {
	channels map[string]*memChannel
	// held until the first channel exists, like an nsqd topic
	backlog []*Message
}

type memChannel struct {
	mu     sync.Mutex
	queue  []*Message
	signal chan struct{}
}

func newMemChannel() *memChannel {
	return &memChannel{signal: make(chan struct{}, 1)}
}

func (c *memChannel) notify() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

func (c *memChannel) push(m *Message) {
	c.mu.Lock()
	c.queue = append(c.queue, m)
	c.mu.Unlock()
	c.notify()
}

func (c *memChannel) pushFront(m *Message) {
	c.mu.Lock()
	c.queue = append([]*Message{m}, c.queue...)
	c.mu.Unlock()
	c.notify()
}

// next blocks until a message is available or stop is closed
func (c *memChannel) next(stop <-chan struct{}) *Message {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			m := c.queue[0]
			c.queue = c.queue[1:]
			more := len(c.queue) > 0
			c.mu.Unlock()
			if more {
				c.notify()
			}
			return m
		}
		c.mu.Unlock()

		select {
		case <-c.signal:
		case <-stop:
			return nil
		}
	}
}

func (c *memChannel) depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func copyMessage(m *Message) *Message {
	cp := *m
	cp.Body = append([]byte(nil), m.Body...)
	return &cp
}

// Publish implements Publisher
func (b *Memory) Publish(ctx context.Context, topic string, event any) error {
	ctx, span := tracing.StartSpan(ctx, "bus.publish", attribute.String("messaging.destination", topic))
	defer span.End()

	err := b.publish(ctx, topic, event)
	metrics.RecordPublish(topic, err)
	tracing.SetSpanError(ctx, err)
	return err
}

func (b *Memory) publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return &PublishError{Topic: topic, Err: err}
	}
	body, err := Encode(event)
	if err != nil {
		return &PublishError{Topic: topic, Err: err}
	}

	msg := &Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Body:      body,
		Timestamp: time.Now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return &PublishError{Topic: topic, Err: ErrClosed}
	}

	t := b.topicLocked(topic)
	if len(t.channels) == 0 {
		t.backlog = append(t.backlog, msg)
		return nil
	}
	for _, ch := range t.channels {
		ch.push(copyMessage(msg))
	}
	return nil
}

func (b *Memory) topicLocked(name string) *memTopic {
	t, ok := b.topics[name]
	if !ok {
		t = &memTopic{channels: make(map[string]*memChannel)}
		b.topics[name] = t
	}
	return t
}

// Subscribe implements Subscriber
func (b *Memory) Subscribe(topic, channel string, h Handler) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	t := b.topicLocked(topic)
	ch, ok := t.channels[channel]
	if !ok {
		ch = newMemChannel()
		t.channels[channel] = ch
		for _, m := range t.backlog {
			ch.push(m)
		}
		t.backlog = nil
	}
	sub := &memSubscription{stop: make(chan struct{})}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		b.consume(topic, channel, ch, h, sub.stop)
	}()
	return sub, nil
}

func (b *Memory) consume(topic, channel string, ch *memChannel, h Handler, stop <-chan struct{}) {
	for {
		m := ch.next(stop)
		if m == nil {
			return
		}
		m.Attempts++

		err := safeHandle(h, m)
		if err == nil {
			continue
		}

		if b.maxAttempts > 0 && m.Attempts >= b.maxAttempts {
			b.logger.Plain().
				WithTopic(topic).
				WithField("channel", channel).
				WithField("message_id", m.ID).
				WithField("attempts", m.Attempts).
				WithError(err).
				Warn("giving up on message")
			continue
		}

		ch.pushFront(m)
		if b.requeueDelay > 0 {
			select {
			case <-time.After(b.requeueDelay):
			case <-stop:
				return
			}
		}
	}
}

func safeHandle(h Handler, m *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return h(context.Background(), m)
}

type panicError struct{ value any }

func (p *panicError) Error() string { return "handler panicked" }

// Depth returns the number of queued messages on topic/channel
func (b *Memory) Depth(topic, channel string) int {
	b.mu.Lock()
	t, ok := b.topics[topic]
	if !ok {
		b.mu.Unlock()
		return 0
	}
	if ch, ok := t.channels[channel]; ok {
		b.mu.Unlock()
		return ch.depth()
	}
	n := len(t.backlog)
	b.mu.Unlock()
	return n
}

// Ping implements Bus
func (b *Memory) Ping() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription and rejects further publishes
func (b *Memory) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.Stop()
	}
	return nil
}

type memSubscription struct {
	once sync.Once
	stop chan struct{}
	wg   sync.WaitGroup
}

func (s *memSubscription) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}
