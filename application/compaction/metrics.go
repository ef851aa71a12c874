package compaction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "boardsync",
		Subsystem: "compaction",
		Name:      "runs_total",
		Help:      "Completed compaction runs.",
	})

	docsCompactedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "boardsync",
		Subsystem: "compaction",
		Name:      "docs_compacted_total",
		Help:      "Documents folded into a snapshot.",
	})

	docFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "boardsync",
		Subsystem: "compaction",
		Name:      "doc_failures_total",
		Help:      "Documents whose compaction failed.",
	})
)
