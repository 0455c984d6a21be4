package hstat

import (
	"github.com/ValentinKolb/hstat/lib/hstat/util"
)

// --------------------------------------------------------------------------
// Collaborator contracts
// --------------------------------------------------------------------------

// FlushFunc is a subsystem-supplied flush callback invoked by Flush once
// per (dirty node, cpu) pair, in an order where every node is visited
// before all of its ancestors. It replaces the built-in delta accumulator.
//
// The callback is invoked without any engine lock held and may block. It is
// never invoked concurrently for the same subsystem (flushes are serialized),
// so it may maintain its own totals without additional locking.
type FlushFunc func(n *Node, cpu int)

// RootSourceFunc supplies the raw per-CPU counters of the tree root from a
// system-wide source. The root's own raw figures are not tracked per node;
// FlushedStat reconstructs them on demand by summing this source over all
// CPU shards.
type RootSourceFunc func(cpu int) BaseStat

// --------------------------------------------------------------------------
// CPU time classification (built-in accumulator payload)
// --------------------------------------------------------------------------

// CPUTimeField selects which BaseStat figure AccountTimeField charges.
type CPUTimeField int

const (
	FieldUser CPUTimeField = iota
	FieldNice
	FieldSystem
	FieldIRQ
	FieldSoftIRQ
)

func (f CPUTimeField) String() string {
	switch f {
	case FieldUser:
		return "user"
	case FieldNice:
		return "nice"
	case FieldSystem:
		return "system"
	case FieldIRQ:
		return "irq"
	case FieldSoftIRQ:
		return "softirq"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// SubsystemInfo is a point-in-time snapshot of a subsystem's state, meant
// for reporting and monitoring. All figures are approximate under
// concurrent updates.
type SubsystemInfo struct {
	Name     string `json:"name"`
	NumCPU   int    `json:"num_cpu"`
	Bindings int    `json:"bindings"`

	// DirtyPerCPU counts the bindings currently on each CPU's updated tree.
	DirtyPerCPU []int `json:"dirty_per_cpu"`

	// UpdateDistribution judges how evenly MarkDirty calls spread over the
	// CPU shards since the subsystem was created.
	UpdateDistribution util.DistributionStats `json:"update_distribution"`
}
