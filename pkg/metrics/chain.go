package metrics

// ChainMetrics is the metrics sink a hashchain.Chain or
// checkpoint.Manager reports through. A nil ChainMetrics is always safe
// to use.
type ChainMetrics interface {
	RecordChainEntry()
	RecordVerifyFailure()
	RecordCheckpointCreated(isCopy bool)
	RecordCheckpointRecovery()
}

// NewChainMetrics returns the Prometheus-backed ChainMetrics, or nil if
// metrics are not enabled.
func NewChainMetrics() ChainMetrics {
	if !IsEnabled() || newPrometheusChainMetrics == nil {
		return nil
	}
	return newPrometheusChainMetrics()
}

var newPrometheusChainMetrics func() ChainMetrics

// RegisterChainMetricsConstructor is called by pkg/metrics/prometheus's
// init to wire its concrete collector into NewChainMetrics.
func RegisterChainMetricsConstructor(constructor func() ChainMetrics) {
	newPrometheusChainMetrics = constructor
}

// RecordChainEntry records a hash chain entry append.
func RecordChainEntry(m ChainMetrics) {
	if m != nil {
		m.RecordChainEntry()
	}
}

// RecordVerifyFailure records a hash chain or checkpoint verification
// failure.
func RecordVerifyFailure(m ChainMetrics) {
	if m != nil {
		m.RecordVerifyFailure()
	}
}

// RecordCheckpointCreated records a checkpoint creation.
func RecordCheckpointCreated(m ChainMetrics, isCopy bool) {
	if m != nil {
		m.RecordCheckpointCreated(isCopy)
	}
}

// RecordCheckpointRecovery records a successful recovery from a
// checkpoint after a primary-region read failure.
func RecordCheckpointRecovery(m ChainMetrics) {
	if m != nil {
		m.RecordCheckpointRecovery()
	}
}
