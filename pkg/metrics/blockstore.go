package metrics

// BlockstoreMetrics is the metrics sink a blockstore.Manager reports
// through. A nil BlockstoreMetrics is always safe to use — every
// exported helper in this file is a nil-receiver-safe no-op.
type BlockstoreMetrics interface {
	ObserveWrite(bytes int, kind int)
	ObserveRead(bytes int, kind int)
	RecordChecksumFailure()
	RecordScanSkip(skippedBytes int64)
}

// NewBlockstoreMetrics returns the Prometheus-backed BlockstoreMetrics,
// or nil if metrics are not enabled.
func NewBlockstoreMetrics() BlockstoreMetrics {
	if !IsEnabled() || newPrometheusBlockstoreMetrics == nil {
		return nil
	}
	return newPrometheusBlockstoreMetrics()
}

var newPrometheusBlockstoreMetrics func() BlockstoreMetrics

// RegisterBlockstoreMetricsConstructor is called by
// pkg/metrics/prometheus's init to wire its concrete collector into
// NewBlockstoreMetrics without pkg/metrics importing prometheus
// directly.
func RegisterBlockstoreMetricsConstructor(constructor func() BlockstoreMetrics) {
	newPrometheusBlockstoreMetrics = constructor
}

// ObserveBlockWrite records a successful block write.
func ObserveBlockWrite(m BlockstoreMetrics, bytes int, kind int) {
	if m != nil {
		m.ObserveWrite(bytes, kind)
	}
}

// ObserveBlockRead records a successful block read.
func ObserveBlockRead(m BlockstoreMetrics, bytes int, kind int) {
	if m != nil {
		m.ObserveRead(bytes, kind)
	}
}

// RecordChecksumFailure records a header or payload checksum mismatch.
func RecordChecksumFailure(m BlockstoreMetrics) {
	if m != nil {
		m.RecordChecksumFailure()
	}
}

// RecordScanSkip records bytes skipped during a corruption-tolerant
// index rebuild.
func RecordScanSkip(m BlockstoreMetrics, skippedBytes int64) {
	if m != nil {
		m.RecordScanSkip(skippedBytes)
	}
}
