package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bridgesync"

const (
	ScheduleQueued  = "queued"
	ScheduleDropped = "dropped"
	ScheduleDeduped = "deduped"

	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeRecovered = "recovered"
	OutcomeSkipped   = "skipped"
)

var (
	once sync.Once

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Account entries waiting for a worker.",
	})

	inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "in_flight",
		Help:      "Account syncs currently holding a worker slot.",
	})

	minPriority = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "min_priority",
		Help:      "Current skip-under-priority threshold.",
	})

	scheduleRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_requests_total",
			Help:      "Schedule requests by result.",
		},
		[]string{"result"},
	)

	syncAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_attempts_total",
			Help:      "Account sync attempts by outcome.",
		},
		[]string{"outcome"},
	)

	syncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_duration_seconds",
		Help:      "Duration of account sync attempts.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(queueDepth, inFlight, minPriority, scheduleRequests, syncAttempts, syncDuration)
	})
}

// SetQueue publishes the scheduler occupancy.
func SetQueue(queued, running int) {
	queueDepth.Set(float64(queued))
	inFlight.Set(float64(running))
}

func SetMinPriority(priority int) {
	minPriority.Set(float64(priority))
}

func IncSchedule(result string) {
	scheduleRequests.WithLabelValues(result).Inc()
}

// ObserveSync records one finished attempt.
func ObserveSync(outcome string, d time.Duration) {
	syncAttempts.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSkipped {
		syncDuration.Observe(d.Seconds())
	}
}
