package observability

// NoopMetricsClient discards every call; the default for tests and for
// processes that don't export metrics.
type NoopMetricsClient struct{}

func (NoopMetricsClient) IncrementCounter(string, float64)                              {}
func (NoopMetricsClient) IncrementCounterWithLabels(string, float64, map[string]string) {}
func (NoopMetricsClient) RecordGauge(string, float64, map[string]string)                {}
func (NoopMetricsClient) RecordHistogram(string, float64, map[string]string)            {}
func (NoopMetricsClient) RecordDuration(string, float64, map[string]string)             {}
