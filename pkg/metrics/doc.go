/*
Package metrics provides Prometheus metrics collection and exposition for patchfs.

Metrics are registered at package init via prometheus.MustRegister and exposed
over HTTP by Handler(), following the same global-registry pattern used
throughout this stack's ambient tooling.

# Metric Groups

Patch graph: live patch counts by state, creation counts by kind, the
write-completion counter, free-list length, and overlap-rejection count —
together these let an operator watch the graph for leaks (free list growing
without bound) or thrashing (overlap rejections spiking).

Patch groups: whether the process-wide atomic slot is held, and how many
groups are currently engaged in the default scope.

Journal: transaction outcomes (committed/replayed/discarded), commit and
replay duration histograms, and per-slot occupancy (in use or idle).

# Usage

	timer := metrics.NewTimer()
	// ... commit transaction ...
	timer.ObserveDuration(metrics.JournalCommitDuration)
	metrics.JournalTransactionsTotal.WithLabelValues("committed").Inc()

# Integration Points

  - pkg/journal: updates JournalTransactionsTotal, JournalReplayDuration and
    JournalSlotOccupancy; JournalCommitDuration is registered but not observed
  - pkg/patch and pkg/patchgroup do not import this package; the patch-graph
    and patch-group metrics are registered and stay at zero
  - cmd/patchfsctl: the serve-metrics subcommand mounts metrics.Handler() on --addr
*/
package metrics
