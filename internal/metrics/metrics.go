// Package metrics exposes call-core's runtime state as Prometheus metrics:
// active calls, active ghost-recorder sessions, recording-queue depth and
// capacity, and process uptime.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/familyspace/callcore/internal/recordingqueue"
)

// ActiveCallsProvider exposes the number of currently non-terminal calls.
// Satisfied by *coordinator.Coordinator.
type ActiveCallsProvider interface {
	ActiveCallCount() int
}

// ActiveRecordingsProvider exposes the number of calls the ghost recorder
// currently holds a session for. Satisfied by *coordinator.Coordinator.
type ActiveRecordingsProvider interface {
	ActiveRecordingCount() int
}

// QueueStatusProvider exposes the current recording-queue admission state.
// Satisfied by *recordingqueue.Queue.
type QueueStatusProvider interface {
	Status() recordingqueue.Status
}

// Collector is a prometheus.Collector that gathers call-core metrics at
// scrape time.
type Collector struct {
	calls      ActiveCallsProvider
	recordings ActiveRecordingsProvider
	queue      QueueStatusProvider
	startTime  time.Time

	activeCallsDesc       *prometheus.Desc
	activeRecordingsDesc  *prometheus.Desc
	queueActiveDesc       *prometheus.Desc
	queueMaxDesc          *prometheus.Desc
	queueLenDesc          *prometheus.Desc
	queueAvailableDesc    *prometheus.Desc
	uptimeDesc            *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if
// unavailable, in which case its metrics are omitted from a scrape.
func NewCollector(calls ActiveCallsProvider, recordings ActiveRecordingsProvider, queue QueueStatusProvider, startTime time.Time) *Collector {
	return &Collector{
		calls:      calls,
		recordings: recordings,
		queue:      queue,
		startTime:  startTime,

		activeCallsDesc: prometheus.NewDesc(
			"callcore_active_calls",
			"Number of currently non-terminal calls",
			nil, nil,
		),
		activeRecordingsDesc: prometheus.NewDesc(
			"callcore_active_recordings",
			"Number of calls the ghost recorder currently holds a session for",
			nil, nil,
		),
		queueActiveDesc: prometheus.NewDesc(
			"callcore_recording_queue_active",
			"Number of recorder slots currently in use",
			nil, nil,
		),
		queueMaxDesc: prometheus.NewDesc(
			"callcore_recording_queue_capacity",
			"Configured maximum concurrent recordings",
			nil, nil,
		),
		queueLenDesc: prometheus.NewDesc(
			"callcore_recording_queue_waiting",
			"Number of callers waiting for a recorder slot",
			nil, nil,
		),
		queueAvailableDesc: prometheus.NewDesc(
			"callcore_recording_queue_available_slots",
			"Number of recorder slots currently free",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"callcore_uptime_seconds",
			"Seconds since the call-core process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.activeRecordingsDesc
	ch <- c.queueActiveDesc
	ch <- c.queueMaxDesc
	ch <- c.queueLenDesc
	ch <- c.queueAvailableDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time; none of them perform I/O, so this never blocks.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.calls != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue,
			float64(c.calls.ActiveCallCount()),
		)
	}

	if c.recordings != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeRecordingsDesc, prometheus.GaugeValue,
			float64(c.recordings.ActiveRecordingCount()),
		)
	}

	if c.queue != nil {
		status := c.queue.Status()
		ch <- prometheus.MustNewConstMetric(c.queueActiveDesc, prometheus.GaugeValue, float64(status.Active))
		ch <- prometheus.MustNewConstMetric(c.queueMaxDesc, prometheus.GaugeValue, float64(status.Max))
		ch <- prometheus.MustNewConstMetric(c.queueLenDesc, prometheus.GaugeValue, float64(status.QueueLen))
		ch <- prometheus.MustNewConstMetric(c.queueAvailableDesc, prometheus.GaugeValue, float64(status.AvailableSlots))
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
