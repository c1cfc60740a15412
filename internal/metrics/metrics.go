// Package metrics registers the Prometheus instrumentation for the
// conversation pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the conversation client.
type Metrics struct {
	// turn lifecycle
	TurnsStarted   prometheus.Counter
	TurnsCompleted prometheus.Counter
	TurnsAborted   prometheus.Counter
	BargeIns       prometheus.Counter

	// transcription
	TranscriptsAccepted prometheus.Counter
	TranscriptsFiltered prometheus.Counter

	// playback
	SegmentsPlayed prometheus.Counter
	SegmentsFailed prometheus.Counter
	QueueDepth     prometheus.Gauge

	// State holds the current orchestrator state as a label ("listening",
	// "speaking", ...); exactly one label is 1 at a time.
	State *prometheus.GaugeVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		TurnsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_turns_started_total",
			Help: "Total number of conversation turns started",
		}),
		TurnsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_turns_completed_total",
			Help: "Total number of conversation turns completed",
		}),
		TurnsAborted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_turns_aborted_total",
			Help: "Total number of conversation turns aborted",
		}),
		BargeIns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_barge_ins_total",
			Help: "Total number of user barge-in interruptions",
		}),
		TranscriptsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_transcripts_accepted_total",
			Help: "Total number of transcripts accepted as user queries",
		}),
		TranscriptsFiltered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_transcripts_filtered_total",
			Help: "Total number of transcripts discarded as non-speech",
		}),
		SegmentsPlayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_segments_played_total",
			Help: "Total number of audio segments played to completion",
		}),
		SegmentsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voxloop_segments_failed_total",
			Help: "Total number of audio segments skipped after failure",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voxloop_playback_queue_depth",
			Help: "Current number of segments held by the playback queue",
		}),
		State: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voxloop_state",
			Help: "Current orchestrator state (1 on the active state label)",
		}, []string{"state"}),
	}
}

// SetState marks one state label active and clears the previous one.
func (m *Metrics) SetState(prev, next string) {
	if m.State == nil {
		return
	}
	if prev != "" {
		m.State.WithLabelValues(prev).Set(0)
	}
	m.State.WithLabelValues(next).Set(1)
}

// NewNop creates unregistered metrics for tests.
func NewNop() *Metrics {
	return &Metrics{
		TurnsStarted:        prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_turns_started"}),
		TurnsCompleted:      prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_turns_completed"}),
		TurnsAborted:        prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_turns_aborted"}),
		BargeIns:            prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_barge_ins"}),
		TranscriptsAccepted: prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_transcripts_accepted"}),
		TranscriptsFiltered: prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_transcripts_filtered"}),
		SegmentsPlayed:      prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_segments_played"}),
		SegmentsFailed:      prometheus.NewCounter(prometheus.CounterOpts{Name: "nop_segments_failed"}),
		QueueDepth:          prometheus.NewGauge(prometheus.GaugeOpts{Name: "nop_queue_depth"}),
		State:               prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "nop_state"}, []string{"state"}),
	}
}
