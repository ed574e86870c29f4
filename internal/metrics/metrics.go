// Package metrics exposes the daemon's Prometheus instrumentation. Counters
// and gauges are fed from the event bus; queue depth and worker occupancy are
// sampled live at scrape time.
package metrics

import (
	"sync"

	"github.com/clonehoundhq/clonehound/internal/events"
	"github.com/clonehoundhq/clonehound/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	activeJobs *prometheus.GaugeVec

	jobsCompleted *prometheus.CounterVec
	jobsFailed    *prometheus.CounterVec
	jobsCanceled  *prometheus.CounterVec
	jobsRetried   *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	duplicateGroups *prometheus.CounterVec

	scanDuration *prometheus.HistogramVec
)

// eventState remembers which jobs are currently running so a duplicate or
// out-of-order event never double-moves the active gauge.
type eventState struct {
	mu      sync.Mutex
	running map[string]bool
}

// Register installs all collectors exactly once and starts the event
// consumer. Safe to call multiple times; later calls are no-ops.
func Register(q *queue.Queue, bus *events.Bus) {
	registerOnce.Do(func() {
		if q == nil || bus == nil {
			return
		}

		activeJobs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clonehound",
			Name:      "active_jobs",
			Help:      "Number of scan jobs currently running per target.",
		}, []string{"target"})

		jobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clonehound",
			Name:      "jobs_completed_total",
			Help:      "Number of scan jobs completed successfully.",
		}, []string{"target"})
		jobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clonehound",
			Name:      "jobs_failed_total",
			Help:      "Number of scan jobs that exhausted their attempts.",
		}, []string{"target"})
		jobsCanceled = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clonehound",
			Name:      "jobs_canceled_total",
			Help:      "Number of scan jobs that were canceled.",
		}, []string{"target"})
		jobsRetried = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clonehound",
			Name:      "jobs_retried_total",
			Help:      "Number of scan job attempts that were retried.",
		}, []string{"target"})

		cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clonehound",
			Name:      "cache_hits_total",
			Help:      "Number of scans served from the result cache.",
		}, []string{"target"})
		cacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clonehound",
			Name:      "cache_misses_total",
			Help:      "Number of cache lookups that missed.",
		}, []string{"target"})

		duplicateGroups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clonehound",
			Name:      "duplicate_groups_total",
			Help:      "Number of duplicate groups reported by scans.",
		}, []string{"target"})

		scanDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clonehound",
			Name:      "scan_duration_seconds",
			Help:      "Duration of completed scan jobs in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target"})

		prometheus.MustRegister(
			activeJobs,
			jobsCompleted,
			jobsFailed,
			jobsCanceled,
			jobsRetried,
			cacheHits,
			cacheMisses,
			duplicateGroups,
			scanDuration,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "clonehound",
				Name:      "queue_depth",
				Help:      "Number of jobs waiting in the queue.",
			}, func() float64 {
				return float64(q.Depth())
			}),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "clonehound",
				Name:      "running_jobs",
				Help:      "Number of jobs currently held by workers.",
			}, func() float64 {
				return float64(q.ActiveCount())
			}),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "clonehound",
				Name:      "bus_events_dropped_total",
				Help:      "Events discarded because a subscriber mailbox was full.",
			}, func() float64 {
				return float64(bus.Dropped())
			}),
		)

		state := &eventState{running: make(map[string]bool)}
		sub := bus.Subscribe(512, events.FilterTopics("job:*", "scan:duplicate", "cache:*"))
		go consumeEvents(sub, state)
	})
}

func consumeEvents(sub *events.Subscription, state *eventState) {
	for e := range sub.Events() {
		handleEvent(state, &e)
	}
}

func handleEvent(state *eventState, e *events.Event) {
	if e.Repository == "" {
		return
	}
	switch e.Topic {
	case events.TopicCacheHit:
		cacheHits.WithLabelValues(e.Repository).Inc()
	case events.TopicCacheMiss:
		cacheMisses.WithLabelValues(e.Repository).Inc()
	case events.TopicScanDuplicate:
		duplicateGroups.WithLabelValues(e.Repository).Inc()
	default:
		updateJobMetrics(state, e)
	}
}

func updateJobMetrics(state *eventState, e *events.Event) {
	if e.JobID == "" {
		return
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	switch e.Topic {
	case events.TopicJobStarted:
		if !state.running[e.JobID] {
			state.running[e.JobID] = true
			activeJobs.WithLabelValues(e.Repository).Inc()
		}
	case events.TopicJobRetrying:
		settleJob(state, e)
		jobsRetried.WithLabelValues(e.Repository).Inc()
	case events.TopicJobCompleted:
		settleJob(state, e)
		jobsCompleted.WithLabelValues(e.Repository).Inc()
		if secs, ok := e.Data["duration_seconds"].(float64); ok {
			scanDuration.WithLabelValues(e.Repository).Observe(secs)
		}
	case events.TopicJobFailed:
		settleJob(state, e)
		jobsFailed.WithLabelValues(e.Repository).Inc()
	case events.TopicJobCanceled:
		settleJob(state, e)
		jobsCanceled.WithLabelValues(e.Repository).Inc()
	}
}

// settleJob moves a job out of the running set. Callers hold state.mu.
func settleJob(state *eventState, e *events.Event) {
	if state.running[e.JobID] {
		delete(state.running, e.JobID)
		activeJobs.WithLabelValues(e.Repository).Dec()
	}
}
