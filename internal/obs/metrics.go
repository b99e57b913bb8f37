package obs

// Label is one key/value dimension attached to a measurement.
type Label struct {
	Key   string
	Value string
}

// Meter receives counters and histograms from the client and server.
// Implementations may discard them or bridge to a metrics backend.
type Meter interface {
	Counter(name string, value float64, labels ...Label)
	Histogram(name string, value float64, labels ...Label)
}

// NopMeter discards all measurements.
type NopMeter struct{}

func (NopMeter) Counter(name string, value float64, labels ...Label)   {}
func (NopMeter) Histogram(name string, value float64, labels ...Label) {}
