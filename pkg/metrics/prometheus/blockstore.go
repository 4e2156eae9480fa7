// Package prometheus implements pkg/metrics's collector interfaces
// against prometheus/client_golang, registering itself with pkg/metrics
// on init so storage packages never import prometheus directly.
package prometheus

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/archivemail/blockstore/pkg/metrics"
)

func init() {
	metrics.RegisterBlockstoreMetricsConstructor(newBlockstoreMetrics)
}

type blockstoreMetrics struct {
	bytesWritten     *prometheus.CounterVec
	bytesRead        *prometheus.CounterVec
	checksumFailures prometheus.Counter
	scanSkippedBytes prometheus.Counter
}

func newBlockstoreMetrics() metrics.BlockstoreMetrics {
	reg := metrics.GetRegistry()

	return &blockstoreMetrics{
		bytesWritten: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockstore_bytes_written_total",
				Help: "Total bytes written to the archive, by block kind.",
			},
			[]string{"kind"},
		),
		bytesRead: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockstore_bytes_read_total",
				Help: "Total bytes read from the archive, by block kind.",
			},
			[]string{"kind"},
		),
		checksumFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "blockstore_checksum_failures_total",
				Help: "Total header or payload checksum mismatches encountered.",
			},
		),
		scanSkippedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "blockstore_scan_skipped_bytes_total",
				Help: "Total bytes skipped during corruption-tolerant index rebuilds.",
			},
		),
	}
}

func (m *blockstoreMetrics) ObserveWrite(bytes int, kind int) {
	m.bytesWritten.WithLabelValues(strconv.Itoa(kind)).Add(float64(bytes))
}

func (m *blockstoreMetrics) ObserveRead(bytes int, kind int) {
	m.bytesRead.WithLabelValues(strconv.Itoa(kind)).Add(float64(bytes))
}

func (m *blockstoreMetrics) RecordChecksumFailure() {
	m.checksumFailures.Inc()
}

func (m *blockstoreMetrics) RecordScanSkip(skippedBytes int64) {
	m.scanSkippedBytes.Add(float64(skippedBytes))
}
