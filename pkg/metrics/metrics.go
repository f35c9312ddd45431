package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Patch graph metrics
	PatchesLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "patchfs_patches_live",
			Help: "Number of patches currently live in the graph, by state",
		},
		[]string{"state"},
	)

	PatchesCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patchfs_patches_created_total",
			Help: "Total number of patches created, by kind",
		},
		[]string{"kind"},
	)

	PatchesWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "patchfs_patches_written_total",
			Help: "Total number of patches that reached the written state",
		},
	)

	FreeListLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "patchfs_freelist_length",
			Help: "Current length of the reclaimable-patch free list",
		},
	)

	OverlapRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "patchfs_overlap_rejections_total",
			Help: "Total number of overlap attachments rejected as busy",
		},
	)

	// Patch group metrics
	PatchgroupAtomicActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "patchfs_patchgroup_atomic_active",
			Help: "Whether an atomic patch group currently holds the process-wide slot (1 = held, 0 = free)",
		},
	)

	PatchgroupsEngaged = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "patchfs_patchgroups_engaged",
			Help: "Number of patch groups currently engaged in the default scope",
		},
	)

	// Journal metrics
	JournalTransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patchfs_journal_transactions_total",
			Help: "Total number of journal transactions, by outcome",
		},
		[]string{"outcome"},
	)

	JournalCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "patchfs_journal_commit_duration_seconds",
			Help:    "Time taken to commit a journal transaction, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	JournalReplayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "patchfs_journal_replay_duration_seconds",
			Help:    "Time taken to replay the journal at startup, in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	JournalSlotOccupancy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "patchfs_journal_slot_occupancy",
			Help: "Whether each journal transaction slot is in use (1 = open or subcommitted, 0 = idle)",
		},
		[]string{"slot"},
	)
)

func init() {
	prometheus.MustRegister(PatchesLive)
	prometheus.MustRegister(PatchesCreatedTotal)
	prometheus.MustRegister(PatchesWrittenTotal)
	prometheus.MustRegister(FreeListLength)
	prometheus.MustRegister(OverlapRejectionsTotal)
	prometheus.MustRegister(PatchgroupAtomicActive)
	prometheus.MustRegister(PatchgroupsEngaged)
	prometheus.MustRegister(JournalTransactionsTotal)
	prometheus.MustRegister(JournalCommitDuration)
	prometheus.MustRegister(JournalReplayDuration)
	prometheus.MustRegister(JournalSlotOccupancy)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
