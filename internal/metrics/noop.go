package metrics

// NoopCollector is a no-op implementation of the Collector interface.
// All methods are empty stubs that do nothing.
type NoopCollector struct{}

// PollStarted is a no-op.
func (n *NoopCollector) PollStarted(domain string) {}

// PollFinished is a no-op.
func (n *NoopCollector) PollFinished(domain string, pendingSeen int) {}

// AuthResult is a no-op.
func (n *NoopCollector) AuthResult(domain, result string) {}

// ExecFinished is a no-op.
func (n *NoopCollector) ExecFinished(domain string, exitCode int, durationSeconds float64, timedOut bool) {
}

// KeyStoreChanged is a no-op.
func (n *NoopCollector) KeyStoreChanged(action string) {}
