package ecs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the optional Prometheus instrumentation for a World. A nil
// *metrics (the default when WorldOptions.Metrics is nil) makes every method
// a no-op, so World's hot path never branches on whether metrics are
// enabled beyond a single nil check.
type metrics struct {
	eventsPushed      prometheus.Counter
	entitiesReclaimed prometheus.Counter
	workerTimeouts    prometheus.Counter
	executeDuration   prometheus.Histogram
	dispatchDuration  prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	m := &metrics{
		eventsPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecs_events_pushed_total",
			Help: "Total ADDED, REMOVED, COMPONENT_ADDED and COMPONENT_REMOVED events pushed by World; CHANGED events are not counted.",
		}),
		entitiesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecs_entities_reclaimed_total",
			Help: "Total entity IDs returned to the free pool.",
		}),
		workerTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecs_worker_timeouts_total",
			Help: "Total worker system init/execute timeouts.",
		}),
		executeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "ecs_execute_duration_seconds",
			Help: "Wall-clock duration of World.Execute calls.",
		}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "ecs_worker_dispatch_duration_seconds",
			Help: "Wall-clock duration of worker system dispatch within Execute.",
		}),
	}
	reg.MustRegister(m.eventsPushed, m.entitiesReclaimed, m.workerTimeouts, m.executeDuration, m.dispatchDuration)
	return m
}

func (m *metrics) incEventsPushed() {
	if m != nil {
		m.eventsPushed.Inc()
	}
}

func (m *metrics) incEntitiesReclaimed(n int) {
	if m != nil {
		m.entitiesReclaimed.Add(float64(n))
	}
}

func (m *metrics) incWorkerTimeouts() {
	if m != nil {
		m.workerTimeouts.Inc()
	}
}

func (m *metrics) observeExecute(d time.Duration) {
	if m != nil {
		m.executeDuration.Observe(d.Seconds())
	}
}

func (m *metrics) observeDispatch(d time.Duration) {
	if m != nil {
		m.dispatchDuration.Observe(d.Seconds())
	}
}
