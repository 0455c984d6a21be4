package hstat

import (
	"fmt"
	"github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Engine self-metrics
// --------------------------------------------------------------------------

// subsystemMetrics exposes the engine's own behavior (update rates, flush
// activity, lock contention) as Prometheus-style counters, one set per
// subsystem. Contention on the per-CPU locks is split between the
// high-frequency update fast path and the flush slow path so the former
// can be watched without drowning in the latter.
type subsystemMetrics struct {
	updates              *metrics.Counter
	flushes              *metrics.Counter
	flushedNodes         *metrics.Counter
	cpuLockContendedFast *metrics.Counter
	cpuLockContended     *metrics.Counter
	lockContended        *metrics.Counter
}

func newSubsystemMetrics(name string) *subsystemMetrics {
	counter := func(metric string, labels string) *metrics.Counter {
		return metrics.GetOrCreateCounter(fmt.Sprintf(`%s{subsystem=%q%s}`, metric, name, labels))
	}

	return &subsystemMetrics{
		updates:              counter("hstat_updates_total", ""),
		flushes:              counter("hstat_flushes_total", ""),
		flushedNodes:         counter("hstat_flushed_nodes_total", ""),
		cpuLockContendedFast: counter("hstat_cpu_lock_contended_total", `,path="fast"`),
		cpuLockContended:     counter("hstat_cpu_lock_contended_total", `,path="slow"`),
		lockContended:        counter("hstat_lock_contended_total", ""),
	}
}
