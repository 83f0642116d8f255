// Package metrics defines the recorder interface the limiter and quota
// manager emit through, with a no-op default and a Prometheus-backed
// implementation.
package metrics

// Recorder receives counters and timing observations from the core
// components. Implementations must be safe for concurrent use.
type Recorder interface {
	Add(name string, value float64, tags map[string]string)
	Observe(name string, value float64, tags map[string]string)
}

// NopRecorder discards everything. It is the default so the hot path never
// has to nil-check the recorder.
type NopRecorder struct{}

func (NopRecorder) Add(name string, value float64, tags map[string]string)     {}
func (NopRecorder) Observe(name string, value float64, tags map[string]string) {}
