package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		SetQueue(3, 2)
		SetMinPriority(10)
		IncSchedule(ScheduleQueued)
		ObserveSync(OutcomeSuccess, time.Second)
		ObserveSync(OutcomeSkipped, 0)
	})

	assert.Equal(t, float64(3), testutil.ToFloat64(queueDepth))
	assert.Equal(t, float64(2), testutil.ToFloat64(inFlight))
	assert.Equal(t, float64(10), testutil.ToFloat64(minPriority))
}

func TestScheduleCounter(t *testing.T) {
	before := testutil.ToFloat64(scheduleRequests.WithLabelValues(ScheduleDropped))
	IncSchedule(ScheduleDropped)
	after := testutil.ToFloat64(scheduleRequests.WithLabelValues(ScheduleDropped))
	assert.Equal(t, before+1, after)
}
