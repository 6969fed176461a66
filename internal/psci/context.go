package psci

import (
	"log/slog"
	"sync/atomic"

	"github.com/theoparis/m1n1/internal/soc"
	"github.com/theoparis/m1n1/internal/timeslice"
)

// Context is the running PSCI core for one guest: the power-domain tree,
// the per-CPU data registry, the capability mask, and the MMIO handles
// needed to actually arm the SoC's power-management hardware. One Context
// is shared by every per-core goroutine; its exported methods are the
// lifecycle operations a trap handler calls into.
type Context struct {
	Tree         *Tree
	Registry     *Registry
	Capabilities soc.Capabilities

	cpuStart []*soc.Register // one per die, indexed by CPUNode.DieIdx

	spintable []spintableEntry

	log *slog.Logger

	// OnSystemOff and OnSystemReset are invoked by SystemOff/SystemReset
	// right after the transition is logged; no console flush happens first.
	// A real platform hook does not return control to the caller; nil is
	// treated as a no-op platform stub.
	OnSystemOff   func()
	OnSystemReset func()
}

// spintableEntry is the per-CPU boot-spintable slot cpu_on writes into: the
// entry point a parked core polls for, plus the context ID handed to it as
// its first argument on wake.
type spintableEntry struct {
	entryPoint uint64
	contextID  uint64
	valid      atomic.Bool
}

// NewContext builds a PSCI core over an already-built power-domain tree,
// allocating one MMIO "CPU start" register handle per die.
func NewContext(tree *Tree, log *slog.Logger) *Context {
	if log == nil {
		log = slog.Default()
	}

	numDies := tree.Topology.NumDies
	if numDies < 1 {
		numDies = 1
	}
	cpuStart := make([]*soc.Register, numDies)
	for die := 0; die < numDies; die++ {
		cpuStart[die] = soc.NewRegister(tree.Topology.CPUStartRegisterAddress(0, die))
	}

	return &Context{
		Tree:         tree,
		Registry:     NewRegistry(tree),
		Capabilities: soc.NewCapabilities(),
		cpuStart:     cpuStart,
		spintable:    make([]spintableEntry, len(tree.CPUs)),
		log:          log.With("component", "psci"),
	}
}

// SetPMgrBase re-derives every die's "CPU start" register address from the
// platform's pmgr MMIO base, typically discovered by reading the "reg"
// property of the platform description's "/arm-io/pmgr" node after boot.
func (c *Context) SetPMgrBase(pmgrBase uint64) {
	for die := range c.cpuStart {
		c.cpuStart[die] = soc.NewRegister(c.Tree.Topology.CPUStartRegisterAddress(pmgrBase, die))
	}
}

// Timeslice kinds recording where dispatch time goes, for a caller that
// opens a recording with timeslice.Open: psci_dispatch covers each whole SMC
// dispatch, psci_coordinate each whole CPU_SUSPEND call (simulated WFI
// included), and psci_wfi the time spent blocked in simulated WFI.
var (
	kindDispatch   = timeslice.RegisterKind("psci_dispatch", 0)
	kindCoordinate = timeslice.RegisterKind("psci_coordinate", 0)
	kindWFI        = timeslice.RegisterKind("psci_wfi", timeslice.SliceFlagGuestTime)
)
