package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// IndexerMetrics holds all Prometheus metrics for the indexer process.
type IndexerMetrics struct {
	EventsApplied        *prometheus.CounterVec
	EventsSkipped        prometheus.Counter
	DeadLettersTotal     *prometheus.CounterVec
	CheckpointPosition   prometheus.Gauge
	StreamReconnects     prometheus.Counter
	SweepDuration        prometheus.Histogram
	NoticesEmitted       *prometheus.CounterVec
	ReconciliationAlerts prometheus.Counter
}

// NewIndexerMetrics initializes and registers the Prometheus metrics.
func NewIndexerMetrics() *IndexerMetrics {
	return &IndexerMetrics{
		EventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lumen_indexer",
			Subsystem: "dispatch",
			Name:      "events_applied_total",
			Help:      "Total number of events applied to the read-model by kind.",
		}, []string{"kind"}),
		EventsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "lumen_indexer",
			Subsystem: "dispatch",
			Name:      "events_skipped_total",
			Help:      "Total number of duplicate deliveries skipped at or below the checkpoint.",
		}),
		DeadLettersTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lumen_indexer",
			Subsystem: "dispatch",
			Name:      "dead_letters_total",
			Help:      "Total number of events dead-lettered by kind.",
		}, []string{"kind"}),
		CheckpointPosition: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "lumen_indexer",
			Subsystem: "dispatch",
			Name:      "checkpoint_position",
			Help:      "Highest fully applied stream position.",
		}),
		StreamReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "lumen_indexer",
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Total number of event stream resubscriptions after failure.",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lumen_indexer",
			Subsystem: "lifecycle",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of subscription expiry sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		NoticesEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lumen_indexer",
			Subsystem: "lifecycle",
			Name:      "notices_emitted_total",
			Help:      "Total number of lifecycle notices emitted by kind.",
		}, []string{"kind"}),
		ReconciliationAlerts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "lumen_indexer",
			Subsystem: "dispatch",
			Name:      "reconciliation_alerts_total",
			Help:      "Total number of detected read-model/chain divergences.",
		}),
	}
}
