// Package metrics defines the recorder surface for operational signals:
// cache hit/miss counters, upstream retry counts, per-symbol price lookups
// and RPC latency. The default recorder is a no-op.
package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
