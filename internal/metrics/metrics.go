package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_events_published_total",
			Help: "Total number of events handed to the broker, by topic and result.",
		},
		[]string{"topic", "result"}, // ok, error
	)

	AuthRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_auth_rejections_total",
			Help: "Total number of requests rejected by the auth guard, by reason.",
		},
		[]string{"reason"}, // missing, malformed, bad_signature, expired
	)

	ExistenceChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_existence_checks_total",
			Help: "Total number of cross-service existence checks, by kind and result.",
		},
		[]string{"kind", "result"}, // found, not_found, unavailable
	)

	ExistenceCheckLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskmesh_existence_check_latency_seconds",
			Help:    "Latency of cross-service existence checks.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_notifications_total",
			Help: "Total number of notification events processed, by outcome.",
		},
		[]string{"outcome"}, // delivered, failed
	)

	TaskWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_task_writes_total",
			Help: "Total number of committed task writes, by operation.",
		},
		[]string{"op"}, // create, update, status, delete
	)

	ConsumerBacklog = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskmesh_consumer_backlog",
			Help: "Messages waiting in an NSQ channel.",
		},
		[]string{"topic", "channel"},
	)
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		EventsPublishedTotal,
		AuthRejectionsTotal,
		ExistenceChecksTotal,
		ExistenceCheckLatency,
		NotificationsTotal,
		TaskWritesTotal,
		ConsumerBacklog,
	)
}

func RecordPublish(topic string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventsPublishedTotal.WithLabelValues(topic, result).Inc()
}

func RecordAuthRejection(reason string) {
	AuthRejectionsTotal.WithLabelValues(reason).Inc()
}

func RecordExistenceCheck(kind, result string, elapsed time.Duration) {
	ExistenceChecksTotal.WithLabelValues(kind, result).Inc()
	ExistenceCheckLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func RecordNotification(outcome string) {
	NotificationsTotal.WithLabelValues(outcome).Inc()
}

func RecordTaskWrite(op string) {
	TaskWritesTotal.WithLabelValues(op).Inc()
}

func UpdateConsumerBacklog(topic, channel string, depth int64) {
	ConsumerBacklog.WithLabelValues(topic, channel).Set(float64(depth))
}
