package psci

import (
	"sync"
	"sync/atomic"
)

// wakeup carries the arguments a cpu_on hands to a core parked in cpu_off.
type wakeup struct {
	entryPoint uint64
	contextID  uint64
}

// CPUData is the per-CPU PSCI bookkeeping array entry. It is mutated only
// by its owning core's goroutine, except AffinityState, which other cores
// may observe (AFFINITY_INFO, cpu_on) and which is therefore an atomic.
type CPUData struct {
	index int

	affinityState atomic.Uint32 // AffinityState

	targetSuspendLevel int
	localCPUState      atomic.Uint32 // LocalState, read across cores

	clusterIndex    int
	dieIndex        int
	localCoreNumber int
	regValue        uint64

	mu       sync.Mutex
	wakeupCh chan wakeup
}

func newCPUData(index int, cpu CPUNode) *CPUData {
	d := &CPUData{
		index:           index,
		clusterIndex:    cpu.ClusterIdx,
		dieIndex:        cpu.DieIdx,
		localCoreNumber: cpu.CoreNumber,
		regValue:        cpu.MPIDR & 0xFFFF,
		wakeupCh:        make(chan wakeup, 1),
	}
	// In a freshly-built registry only CPU0 is running: it is the boot CPU,
	// brought up by the platform before PSCI exists; the others model cores
	// parked waiting for a cpu_on.
	if index == 0 {
		d.affinityState.Store(uint32(AffinityOn))
	} else {
		d.affinityState.Store(uint32(AffinityOff))
	}
	d.localCPUState.Store(uint32(StateOn))
	return d
}

// AffinityState loads this CPU's PSCI-visible affinity state.
func (d *CPUData) AffinityState() AffinityState {
	return AffinityState(d.affinityState.Load())
}

func (d *CPUData) setAffinityState(s AffinityState) {
	d.affinityState.Store(uint32(s))
	cacheCleanInvalidate()
}

// LocalCPUState loads this CPU's own local power state.
func (d *CPUData) LocalCPUState() LocalState {
	return LocalState(d.localCPUState.Load())
}

func (d *CPUData) setLocalCPUState(s LocalState) {
	d.localCPUState.Store(uint32(s))
	cacheCleanInvalidate()
}

// TargetSuspendLevel returns the level recorded by the last power-down
// suspend. Owned by the CPU itself; no lock needed.
func (d *CPUData) TargetSuspendLevel() int { return d.targetSuspendLevel }

// Registry is the array of per-CPU PSCI data, indexed by logical CPU
// identifier.
type Registry struct {
	cpus []*CPUData
}

// NewRegistry creates per-CPU data for every CPU in the tree.
func NewRegistry(tree *Tree) *Registry {
	r := &Registry{cpus: make([]*CPUData, len(tree.CPUs))}
	for i, cpu := range tree.CPUs {
		r.cpus[i] = newCPUData(i, cpu)
	}
	return r
}

// Get returns the per-CPU data for a logical CPU index.
func (r *Registry) Get(idx int) (*CPUData, bool) {
	if idx < 0 || idx >= len(r.cpus) {
		return nil, false
	}
	return r.cpus[idx], true
}

// Len reports how many CPUs are registered.
func (r *Registry) Len() int { return len(r.cpus) }

// FindByMPIDR scans stored reg_values for the CPU matching the low 16 bits
// of an MPIDR value.
func (r *Registry) FindByMPIDR(mpidr uint64) (int, bool) {
	reg := mpidr & 0xFFFF
	for i, d := range r.cpus {
		if d.regValue == reg {
			return i, true
		}
	}
	return -1, false
}
