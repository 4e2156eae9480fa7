package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/archivemail/blockstore/pkg/metrics"
)

func init() {
	metrics.RegisterChainMetricsConstructor(newChainMetrics)
}

type chainMetrics struct {
	chainEntries        prometheus.Counter
	verifyFailures      prometheus.Counter
	checkpointsCreated  *prometheus.CounterVec
	checkpointRecoveries prometheus.Counter
}

func newChainMetrics() metrics.ChainMetrics {
	reg := metrics.GetRegistry()

	return &chainMetrics{
		chainEntries: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "blockstore_hashchain_entries_total",
				Help: "Total hash chain entries appended.",
			},
		),
		verifyFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "blockstore_verify_failures_total",
				Help: "Total hash chain or checkpoint verification failures.",
			},
		),
		checkpointsCreated: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockstore_checkpoints_created_total",
				Help: "Total checkpoints created, by type (copy or reference).",
			},
			[]string{"type"},
		),
		checkpointRecoveries: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "blockstore_checkpoint_recoveries_total",
				Help: "Total reads rescued by falling back to a checkpoint.",
			},
		),
	}
}

func (m *chainMetrics) RecordChainEntry() {
	m.chainEntries.Inc()
}

func (m *chainMetrics) RecordVerifyFailure() {
	m.verifyFailures.Inc()
}

func (m *chainMetrics) RecordCheckpointCreated(isCopy bool) {
	label := "reference"
	if isCopy {
		label = "copy"
	}
	m.checkpointsCreated.WithLabelValues(label).Inc()
}

func (m *chainMetrics) RecordCheckpointRecovery() {
	m.checkpointRecoveries.Inc()
}
