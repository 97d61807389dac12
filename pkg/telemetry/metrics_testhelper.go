package telemetry

import "sync"

// ResetMetricsForTest drops the cached instruments so the next recording
// call rebuilds them against the current MeterProvider. Test code only.
func ResetMetricsForTest() {
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	decisionCounter = nil
	rejectedInputCounter = nil
	batchSizeHistogram = nil
	scoreLatencyHist = nil
}
