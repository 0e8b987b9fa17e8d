package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/austindbirch/taskmesh/internal/logging"
	"github.com/austindbirch/taskmesh/internal/metrics"
)

const DefaultBacklogInterval = 15 * time.Second

// ChannelStats is a point-in-time view of one consumer channel
type ChannelStats struct {
	Topic    string
	Channel  string
	Depth    int64
	InFlight int64
}

type StatsSource interface {
	ChannelStats(ctx context.Context, topic, channel string) (ChannelStats, error)
}

// NSQStats reads channel depth from nsqd's HTTP stats endpoint
type NSQStats struct {
	baseURL string
	client  *http.Client
}

func NewNSQStats(nsqdHTTPAddr string, client *http.Client) *NSQStats {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	base := strings.TrimRight(nsqdHTTPAddr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &NSQStats{baseURL: base, client: client}
}

type nsqStatsResponse struct {
	Topics []struct {
		Name     string `json:"topic_name"`
		Channels []struct {
			Name     string `json:"channel_name"`
			Depth    int64  `json:"depth"`
			InFlight int64  `json:"in_flight_count"`
		} `json:"channels"`
	} `json:"topics"`
}

// ChannelStats reports zero depth for a topic or channel nsqd does not know yet
func (s *NSQStats) ChannelStats(ctx context.Context, topic, channel string) (ChannelStats, error) {
	out := ChannelStats{Topic: topic, Channel: channel}

	q := url.Values{"format": {"json"}, "topic": {topic}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/stats?"+q.Encode(), nil)
	if err != nil {
		return out, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return out, fmt.Errorf("get nsq stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("get nsq stats: status %d", resp.StatusCode)
	}

	var stats nsqStatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return out, fmt.Errorf("decode nsq stats: %w", err)
	}
	for _, t := range stats.Topics {
		if t.Name != topic {
			continue
		}
		for _, c := range t.Channels {
			if c.Name == channel {
				out.Depth, out.InFlight = c.Depth, c.InFlight
			}
		}
	}
	return out, nil
}

// ChannelStats lets the in-memory bus stand in for nsqd in tests and dev
func (b *Memory) ChannelStats(_ context.Context, topic, channel string) (ChannelStats, error) {
	return ChannelStats{Topic: topic, Channel: channel, Depth: int64(b.Depth(topic, channel))}, nil
}

// BacklogMonitor polls a channel's depth into the consumer backlog gauge and
// warns once it crosses a threshold.
type BacklogMonitor struct {
	src      StatsSource
	topic    string
	channel  string
	warnAt   int64
	interval time.Duration
	logger   *logging.Logger
}

type BacklogOption func(*BacklogMonitor)

// WithWarnThreshold sets the depth that triggers a warning. Zero disables it.
func WithWarnThreshold(n int64) BacklogOption {
	return func(m *BacklogMonitor) { m.warnAt = n }
}

func WithInterval(d time.Duration) BacklogOption {
	return func(m *BacklogMonitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithBacklogLogger(l *logging.Logger) BacklogOption {
	return func(m *BacklogMonitor) { m.logger = l }
}

func NewBacklogMonitor(src StatsSource, topic, channel string, opts ...BacklogOption) *BacklogMonitor {
	m := &BacklogMonitor{
		src:      src,
		topic:    topic,
		channel:  channel,
		interval: DefaultBacklogInterval,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check polls once and updates the gauge
func (m *BacklogMonitor) Check(ctx context.Context) (ChannelStats, error) {
	st, err := m.src.ChannelStats(ctx, m.topic, m.channel)
	if err != nil {
		return st, err
	}
	metrics.UpdateConsumerBacklog(m.topic, m.channel, st.Depth)
	if m.warnAt > 0 && st.Depth > m.warnAt {
		m.logger.WithContext(ctx).WithTopic(m.topic).WithFields(map[string]any{
			"channel":   m.channel,
			"depth":     st.Depth,
			"threshold": m.warnAt,
		}).Warn("consumer backlog above threshold")
	}
	return st, nil
}

// Run polls every interval until ctx is done
func (m *BacklogMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Check(ctx); err != nil && ctx.Err() == nil {
				m.logger.WithContext(ctx).WithTopic(m.topic).WithError(err).Error("failed to poll consumer backlog")
			}
		}
	}
}
