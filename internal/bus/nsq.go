package bus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/taskmesh/internal/logging"
	"github.com/austindbirch/taskmesh/internal/metrics"
	"github.com/austindbirch/taskmesh/internal/tracing"
)

type NSQConfig struct {
	NsqdTCPAddr     string
	LookupHTTPAddrs []string
	PublishTimeout  time.Duration
	// MaxAttempts 0 redelivers forever
	MaxAttempts  uint16
	RequeueDelay time.Duration
	Logger       *logging.Logger
}

// NSQ is a Bus backed by nsqd. Each subscription holds at most one message
// in flight so a single consumer processes a topic in publish order.
type NSQ struct {
	cfg      NSQConfig
	producer *nsq.Producer
	logger   *logging.Logger

	mu        sync.Mutex
	consumers []*nsq.Consumer
	closed    bool
}

func NewNSQ(cfg NSQConfig) (*NSQ, error) {
	if cfg.NsqdTCPAddr == "" {
		return nil, errors.New("nsqd address is required")
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	producer, err := nsq.NewProducer(cfg.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		return nil, err
	}
	producer.SetLogger(nsqLogger{cfg.Logger}, nsq.LogLevelWarning)

	return &NSQ{cfg: cfg, producer: producer, logger: cfg.Logger}, nil
}

// Publish hands the event to nsqd and waits for its acknowledgement
func (b *NSQ) Publish(ctx context.Context, topic string, event any) error {
	ctx, span := tracing.StartSpan(ctx, "bus.publish",
		attribute.String("messaging.system", "nsq"),
		attribute.String("messaging.destination", topic),
	)
	defer span.End()

	err := b.publish(ctx, topic, event)
	metrics.RecordPublish(topic, err)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return err
	}
	tracing.AddSpanEvent(ctx, "nsq.published")
	return nil
}

func (b *NSQ) publish(ctx context.Context, topic string, event any) error {
	body, err := Encode(event)
	if err != nil {
		return &PublishError{Topic: topic, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
	defer cancel()

	done := make(chan *nsq.ProducerTransaction, 1)
	if err := b.producer.PublishAsync(topic, body, done); err != nil {
		return &PublishError{Topic: topic, Err: err}
	}

	select {
	case t := <-done:
		if t.Error != nil {
			return &PublishError{Topic: topic, Err: t.Error}
		}
		return nil
	case <-ctx.Done():
		return &PublishError{Topic: topic, Err: ctx.Err()}
	}
}

// Subscribe connects a consumer for topic/channel
func (b *NSQ) Subscribe(topic, channel string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	conf := nsq.NewConfig()
	conf.MaxInFlight = 1
	conf.MaxAttempts = b.cfg.MaxAttempts
	if b.cfg.RequeueDelay > 0 {
		conf.DefaultRequeueDelay = b.cfg.RequeueDelay
	}

	consumer, err := nsq.NewConsumer(topic, channel, conf)
	if err != nil {
		return nil, err
	}
	consumer.SetLogger(nsqLogger{b.logger}, nsq.LogLevelWarning)
	consumer.AddHandler(nsqHandler(topic, h))

	if len(b.cfg.LookupHTTPAddrs) > 0 {
		err = consumer.ConnectToNSQLookupds(b.cfg.LookupHTTPAddrs)
	} else {
		err = consumer.ConnectToNSQD(b.cfg.NsqdTCPAddr)
	}
	if err != nil {
		consumer.Stop()
		return nil, err
	}

	b.consumers = append(b.consumers, consumer)
	return &nsqSubscription{c: consumer}, nil
}

// nsqHandler leaves acknowledgement to go-nsq: nil finishes the message and
// an error requeues it.
func nsqHandler(topic string, h Handler) nsq.HandlerFunc {
	return func(m *nsq.Message) error {
		return h(context.Background(), &Message{
			ID:        string(m.ID[:]),
			Topic:     topic,
			Body:      m.Body,
			Attempts:  m.Attempts,
			Timestamp: time.Unix(0, m.Timestamp),
		})
	}
}

// Ping checks the producer's connection to nsqd
func (b *NSQ) Ping() error {
	return b.producer.Ping()
}

func (b *NSQ) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	consumers := b.consumers
	b.consumers = nil
	b.mu.Unlock()

	for _, c := range consumers {
		c.Stop()
		<-c.StopChan
	}
	b.producer.Stop()
	return nil
}

type nsqSubscription struct {
	c *nsq.Consumer
}

func (s *nsqSubscription) Stop() {
	s.c.Stop()
	<-s.c.StopChan
}

// nsqLogger routes go-nsq's internal logging into ours
type nsqLogger struct {
	l *logging.Logger
}

func (n nsqLogger) Output(_ int, s string) error {
	entry := n.l.Plain().WithField("component", "nsq")
	switch {
	case strings.HasPrefix(s, "ERR"):
		entry.Error(s)
	case strings.HasPrefix(s, "WRN"):
		entry.Warn(s)
	default:
		entry.Debug(s)
	}
	return nil
}
