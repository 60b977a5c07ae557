package app

// Metrics receives engine counters. infra/metrics provides the Prometheus
// implementation.
type Metrics interface {
	DeliveryStarted(path string)
	DeliveryFinished(path, outcome string)
	SnoozeScheduled()
	CalendarImported(n int)
	CalendarExported(op string)
	SyncCompleted(trigger string, err error)
}

type nopMetrics struct{}

func (nopMetrics) DeliveryStarted(string)          {}
func (nopMetrics) DeliveryFinished(string, string) {}
func (nopMetrics) SnoozeScheduled()                {}
func (nopMetrics) CalendarImported(int)            {}
func (nopMetrics) CalendarExported(string)         {}
func (nopMetrics) SyncCompleted(string, error)     {}

func orNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
