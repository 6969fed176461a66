package psci

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/theoparis/m1n1/internal/soc"
)

// CPUNode is a leaf of the power-domain tree. CPU nodes need no lock: each
// is owned by the single physical core it describes.
type CPUNode struct {
	MPIDR       uint64
	ParentIndex int // index into Tree.NonCPU (the owning cluster)
	ClusterIdx  int // cluster index within its die (0-based, per die)
	DieIdx      int
	CoreNumber  int // local core number within the cluster, used for the CPU-start bitmap
}

// NonCPUNode is a cluster or system node. Every field that may be read by a
// different goroutine than the one that wrote it is behind either the
// node's own lock (acquired via Tree.AcquireLocks) or an atomic, mirroring
// the "clean+invalidate the cache line" postcondition required of every
// write to shared tree state.
type NonCPUNode struct {
	FirstCPUIndex  int
	NumCPUSiblings int
	ParentIndex    int // the root system node stores its own index
	Level          int
	LockIndex      int

	localPowerState atomic.Uint32
}

// LocalPowerState loads the node's coordinated state.
func (n *NonCPUNode) LocalPowerState() LocalState {
	return LocalState(n.localPowerState.Load())
}

func (n *NonCPUNode) setLocalPowerState(s LocalState) {
	n.localPowerState.Store(uint32(s))
	cacheCleanInvalidate()
}

// flushes counts cache clean+invalidate operations performed on tree state,
// for tests that assert the step actually happened rather than merely being
// documented.
var flushes atomic.Uint64

// cacheCleanInvalidate models the architectural DC CIVAC step as a semantic
// step, not an optimisation: any field read by a CPU after it has disabled
// its data cache must be flushed to main memory so other cores observe it.
// Go's memory model already gives cross-goroutine visibility through the
// atomic store itself; this call exists to mark, at every site that needs
// one, that the write is cache-coherence-significant and must never be
// silently dropped in translation to a real EL2 build.
func cacheCleanInvalidate() {
	flushes.Add(1)
}

// FlushCount returns how many cache clean+invalidate steps have been
// performed since process start. Exported for tests only.
func FlushCount() uint64 { return flushes.Load() }

// Tree is the populated power-domain tree: the CPU and non-CPU arrays, the
// per-non-CPU-node lock array, and the requested-state matrix. Nodes are
// created once by Build and never destroyed.
type Tree struct {
	Topology soc.Topology

	CPUs   []CPUNode
	NonCPU []NonCPUNode

	locks []sync.Mutex

	// requested[level-1][cpuIndex] is each CPU's most recent request at that
	// non-CPU level, initialised to OFF.
	requested [][]LocalState
}

// Build walks the topology descriptor breadth-first, level MAX_LEVEL down to
// 0, producing the CPU and non-CPU arrays.
func Build(topo soc.Topology) (*Tree, error) {
	if len(topo.ChildCounts) < 2 {
		return nil, fmt.Errorf("psci: topology %s has no child-count descriptor", topo.Identifier)
	}

	descriptor := topo.ChildCounts
	descIdx := 0

	t := &Tree{Topology: topo}

	// Level MAX_LEVEL (system): one virtual bootstrap parent with one child
	// count entry, producing the single system node(s).
	parentCount := 1
	prevStart := 0
	for level := MaxLevel; level >= LevelCluster; level-- {
		start := len(t.NonCPU)
		newParentTotal := 0
		for p := 0; p < parentCount; p++ {
			if descIdx >= len(descriptor) {
				return nil, fmt.Errorf("psci: topology %s descriptor exhausted at level %d", topo.Identifier, level)
			}
			childCount := descriptor[descIdx]
			descIdx++

			parentIdx := prevStart + p
			for c := 0; c < childCount; c++ {
				idx := len(t.NonCPU)
				node := NonCPUNode{Level: level, LockIndex: idx}
				if level == MaxLevel {
					// The root system node is its own parent.
					node.ParentIndex = idx
				} else {
					node.ParentIndex = parentIdx
				}
				t.NonCPU = append(t.NonCPU, node)
				newParentTotal++
			}
		}
		prevStart = start
		parentCount = newParentTotal
	}

	// Level 0 (CPU): restart the child-index counter at zero; CPU nodes live
	// in their own array.
	clusterStart := prevStart
	// Track per-die/per-cluster bookkeeping for MPIDR synthesis.
	clustersPerDie := topo.NumClusters() / topo.NumDies
	if topo.NumDies < 1 {
		clustersPerDie = topo.NumClusters()
	}
	for p := 0; p < parentCount; p++ {
		if descIdx >= len(descriptor) {
			return nil, fmt.Errorf("psci: topology %s descriptor exhausted building CPUs", topo.Identifier)
		}
		childCount := descriptor[descIdx]
		descIdx++

		clusterIdx := clusterStart + p
		dieIdx := 0
		clusterInDie := p
		if clustersPerDie > 0 {
			dieIdx = p / clustersPerDie
			clusterInDie = p % clustersPerDie
		}
		clusterType := ""
		if clusterInDie < len(topo.ClusterTypes) {
			clusterType = topo.ClusterTypes[clusterInDie]
		}

		for c := 0; c < childCount; c++ {
			mpidr := synthesizeMPIDR(len(t.CPUs), clusterType)
			t.CPUs = append(t.CPUs, CPUNode{
				MPIDR:       mpidr,
				ParentIndex: clusterIdx,
				ClusterIdx:  clusterInDie,
				DieIdx:      dieIdx,
				CoreNumber:  c,
			})
		}
	}

	t.locks = make([]sync.Mutex, len(t.NonCPU))
	t.requested = make([][]LocalState, MaxLevel)
	for lvl := 0; lvl < MaxLevel; lvl++ {
		row := make([]LocalState, len(t.CPUs))
		for i := range row {
			row[i] = StateOff
		}
		t.requested[lvl] = row
	}

	// Initialize every cluster and system node's local power state to ON:
	// a freshly-built tree models a system that just booted with every
	// power domain powered, even those whose cores are still parked.
	for i := range t.NonCPU {
		t.NonCPU[i].localPowerState.Store(uint32(StateOn))
	}

	if err := t.updateLimits(); err != nil {
		return nil, err
	}

	// The boot CPU (logical index 0) is already running by the time PSCI
	// exists, the same way psci_set_pwr_domains_to_on seeds the primary
	// core's vote at boot: without this, every ancestor's requested row
	// starts all-OFF and the first cpu_off anywhere folds min(OFF, ...) = OFF
	// straight through the tree even while the boot CPU is still up.
	if len(t.CPUs) > 0 {
		parents, err := t.Parents(0, MaxLevel)
		if err != nil {
			return nil, err
		}
		t.voteOn(0, parents, MaxLevel)
	}

	return t, nil
}

// voteOn records cpuIdx's request as ON at every non-CPU level from 1 up to
// endLevel, without recomputing or committing any node's coordinated state:
// it only updates the vote the next Coordinate call over that node will
// fold in. Callers that run after Build has returned must hold
// AcquireLocks(parents, endLevel) first.
func (t *Tree) voteOn(cpuIdx int, parents []int, endLevel int) {
	for lvl := LevelCluster; lvl <= endLevel; lvl++ {
		t.requested[lvl-1][cpuIdx] = StateOn
	}
}

// synthesizeMPIDR builds a plausible MPIDR for CPU index reg: bit31=1,
// bit16=1 for P-cores, lower 16 bits = SoC "reg" identifier.
func synthesizeMPIDR(reg int, clusterType string) uint64 {
	var mpidr uint64 = 1 << 31
	if clusterType == "P" {
		mpidr |= 1 << 16
	}
	mpidr |= uint64(reg) & 0xFFFF
	return mpidr
}

// updateLimits is the second pass: walk every CPU's parent chain and for
// each ancestor update first_cpu_index (if smaller than current) and
// increment num_cpu_siblings.
func (t *Tree) updateLimits() error {
	for i := range t.NonCPU {
		t.NonCPU[i].FirstCPUIndex = -1 // sentinel: "not yet visited"
	}

	for cpuIdx := range t.CPUs {
		parents, err := t.Parents(cpuIdx, MaxLevel)
		if err != nil {
			return err
		}
		for _, ancestorIdx := range parents {
			n := &t.NonCPU[ancestorIdx]
			if n.FirstCPUIndex == -1 || cpuIdx < n.FirstCPUIndex {
				n.FirstCPUIndex = cpuIdx
			}
			n.NumCPUSiblings++
		}
	}
	return nil
}

// Parents returns the chain of non-CPU ancestor indices from the CPU's
// immediate cluster up to endLevel, inclusive. parents[0] is the level-1
// (cluster) ancestor, parents[endLevel-1] is the level-endLevel ancestor.
// endLevel == LevelCPU (0) is valid and yields an empty chain: a caller
// coordinating only the CPU's own level has no non-CPU ancestors to lock.
func (t *Tree) Parents(cpuIdx, endLevel int) ([]int, error) {
	if cpuIdx < 0 || cpuIdx >= len(t.CPUs) {
		return nil, fmt.Errorf("psci: cpu index %d out of range", cpuIdx)
	}
	if endLevel < LevelCPU || endLevel > MaxLevel {
		return nil, fmt.Errorf("psci: invalid end level %d", endLevel)
	}

	parents := make([]int, endLevel)
	cur := t.CPUs[cpuIdx].ParentIndex
	for lvl := LevelCluster; lvl <= endLevel; lvl++ {
		if cur < 0 || cur >= len(t.NonCPU) {
			return nil, fmt.Errorf("psci: internal failure: parent walk left the tree at level %d", lvl)
		}
		parents[lvl-1] = cur
		cur = t.NonCPU[cur].ParentIndex
	}
	return parents, nil
}
