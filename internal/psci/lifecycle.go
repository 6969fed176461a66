package psci

import (
	"context"
	"time"

	"github.com/theoparis/m1n1/internal/soc"
	"github.com/theoparis/m1n1/internal/timeslice"
)

// plat_local_pstate_width: each level's local state occupies 4 bits of a
// composite power_state encoding.
const platLocalPstateWidth = 4

// powerDownBit is bit 30 of a PSCI power_state argument: 1 selects a
// power-down (OFF-capable) state, 0 a standby/retention state.
const powerDownBit = 1 << 30

// CPUOff implements the CPU_OFF lifecycle operation for the calling
// logical CPU. It requests OFF at every ancestor level and coordinates them
// (a sibling's ON vote keeps a shared ancestor ON), arms the SoC's
// "CPU start" register so hardware finishes the power-down once the core
// reaches deep sleep, and then blocks (modelling "enter deep sleep"). It
// returns Success when ctx is cancelled. If a cpu_on targeting this CPU
// delivers a wakeup instead, the CPU is marked ON again, the wakeup's entry
// point is stored in its spintable slot, and CPUOff returns OperationDenied.
func (c *Context) CPUOff(ctx context.Context, cpuIdx int) (Status, error) {
	data, ok := c.Registry.Get(cpuIdx)
	if !ok {
		return InternalFailure, nil
	}

	var state StateInfo
	for lvl := range state {
		state[lvl] = StateOff
	}

	parents, err := c.Tree.Parents(cpuIdx, MaxLevel)
	if err != nil {
		return Success, err
	}

	c.Tree.AcquireLocks(parents, MaxLevel)
	coordErr := c.Tree.Coordinate(cpuIdx, parents, MaxLevel, &state)
	c.Tree.ReleaseLocks(parents, MaxLevel)
	if coordErr != nil {
		return Success, coordErr
	}

	// "Disable data caching, clean+invalidate the entire data cache": the
	// cross-core-visible effect is that every subsequent state write on this
	// path flushes, which setLocalCPUState/setAffinityState already do.
	data.setLocalCPUState(StateOff)
	data.setAffinityState(AffinityOff)

	cpu := c.Tree.CPUs[cpuIdx]
	die := cpu.DieIdx
	if die >= 0 && die < len(c.cpuStart) {
		c.cpuStart[die].Write(c.cpuStart[die].Read() | soc.CPUStartBit(cpu.ClusterIdx, cpu.CoreNumber))
	}

	c.log.Debug("cpu_off: entering deep sleep", "cpu", cpuIdx)

	select {
	case w := <-data.wakeupCh:
		// A cpu_on raced us and already queued a wakeup: honor it instead of
		// blocking forever, mirroring a real core observing its wakeup event
		// immediately after arming the power-down register.
		data.setAffinityState(AffinityOn)
		data.setLocalCPUState(StateOn)
		c.spintable[cpuIdx].entryPoint = w.entryPoint
		c.spintable[cpuIdx].contextID = w.contextID
		return OperationDenied, nil
	case <-ctx.Done():
		return Success, nil
	}
}

// CPUOn implements the CPU_ON lifecycle operation. It is called by the
// requesting CPU, not the target: it translates target_mpidr to a logical
// index, validates the entry point, writes the boot spintable slot for the
// target CPU, and wakes it if it is currently parked in CPUOff. A CPU in
// CPUSuspend still reports AffinityOn, so CPUOn returns AlreadyOn for it;
// such a CPU is woken only through its own ctx.
func (c *Context) CPUOn(targetMPIDR, entryPoint, contextID uint64) Status {
	targetIdx, found := c.Registry.FindByMPIDR(targetMPIDR)
	if !found {
		return InvalidParameters
	}

	if !validateEntryPoint(entryPoint) {
		return InvalidAddress
	}

	target, ok := c.Registry.Get(targetIdx)
	if !ok {
		return InternalFailure
	}

	switch target.AffinityState() {
	case AffinityOn:
		return AlreadyOn
	case AffinityOnPending:
		return OnPending
	}

	c.spintable[targetIdx].entryPoint = entryPoint
	c.spintable[targetIdx].contextID = contextID
	c.spintable[targetIdx].valid.Store(true)
	cacheCleanInvalidate()

	target.setAffinityState(AffinityOnPending)

	// The target is about to start running: cast its ON vote up the ancestor
	// chain now (cpu_on_finish's role in the reference implementation), so a
	// sibling's later cpu_off folds min(ON, ...) = ON instead of treating
	// this CPU as if it had never registered a request.
	if parents, err := c.Tree.Parents(targetIdx, MaxLevel); err == nil {
		c.Tree.AcquireLocks(parents, MaxLevel)
		c.Tree.voteOn(targetIdx, parents, MaxLevel)
		c.Tree.ReleaseLocks(parents, MaxLevel)
	}

	select {
	case target.wakeupCh <- wakeup{entryPoint: entryPoint, contextID: contextID}:
	default:
		// Buffered channel already holds a pending wakeup (e.g. the target
		// hasn't reached WFI yet); the spintable slot above is authoritative
		// so nothing is lost.
	}

	return Success
}

// validateEntryPoint rejects the null address and anything not naturally
// aligned to an instruction boundary. A real EL2 build would additionally
// range-check against guest RAM; that check belongs to the caller, which
// has access to the guest's address space.
func validateEntryPoint(entryPoint uint64) bool {
	if entryPoint == 0 {
		return false
	}
	if entryPoint%4 != 0 {
		return false
	}
	return true
}

// suspendCategory classifies one coordinated level for validateSuspendRequest.
type suspendCategory int

const (
	categoryRun suspendCategory = iota
	categoryRetention
	categoryOff
)

func categorize(state LocalState) suspendCategory {
	switch state {
	case StateOn:
		return categoryRun
	case StateIdleStandby:
		return categoryRetention
	default:
		return categoryOff
	}
}

// validatePowerState sanity-checks a raw PSCI power_state argument and
// extracts one LocalState per level, packed at platLocalPstateWidth bits
// each starting at bit 0 (level 0, the CPU) up through MaxLevel.
func validatePowerState(powerState uint32) (levels [MaxLevel + 1]LocalState, isPowerDown bool, ok bool) {
	// Reserved bits: only the power-down bit (30) and the low 3 bits of each
	// packed 4-bit level field may be set.
	usedBits := uint32(powerDownBit)
	for lvl := 0; lvl <= MaxLevel; lvl++ {
		usedBits |= 0x7 << (platLocalPstateWidth * lvl) // only 3 of 4 bits are meaningful per level
	}
	if powerState&^usedBits != 0 {
		return levels, false, false
	}

	for lvl := 0; lvl <= MaxLevel; lvl++ {
		raw := (powerState >> (platLocalPstateWidth * lvl)) & 0x7
		switch raw {
		case 0:
			levels[lvl] = StateOn
		case 1:
			levels[lvl] = StateIdleStandby
		case 2:
			levels[lvl] = StateOff
		default:
			return levels, false, false
		}
	}

	isPowerDown = powerState&powerDownBit != 0
	return levels, isPowerDown, true
}

// validateSuspendRequest walks levels 0..targetLevel and requires
// monotonicity: categories must not get shallower (RUN) moving away from
// the CPU. If isPowerDown is false, no level may categorize as OFF, and the
// target level itself must be a valid (non-RUN) retention level.
func validateSuspendRequest(levels [MaxLevel + 1]LocalState, targetLevel int, isPowerDown bool) bool {
	seenDeeper := categoryRun
	for lvl := 0; lvl <= targetLevel; lvl++ {
		cat := categorize(levels[lvl])
		if cat < seenDeeper {
			return false
		}
		seenDeeper = cat
		if !isPowerDown && cat == categoryOff {
			return false
		}
	}
	if !isPowerDown && seenDeeper == categoryRun {
		return false
	}
	return true
}

// targetLevelOf returns the deepest level whose requested local state is not
// ON: the level at which coordination must actually run.
func targetLevelOf(levels [MaxLevel + 1]LocalState) int {
	lvl := 0
	for l := MaxLevel; l >= 0; l-- {
		if levels[l] != StateOn {
			lvl = l
			break
		}
	}
	return lvl
}

// CPUSuspend implements the CPU_SUSPEND lifecycle operation for the calling
// logical CPU. ctx is the cancellation/wake signal for the simulated WFI:
// cancelling ctx models either an interrupt arriving or an explicit wake.
func (c *Context) CPUSuspend(ctx context.Context, cpuIdx int, powerState uint32, entryPoint, contextID uint64) Status {
	data, ok := c.Registry.Get(cpuIdx)
	if !ok {
		return InternalFailure
	}

	levels, isPowerDown, ok := validatePowerState(powerState)
	if !ok {
		return InvalidParameters
	}

	target := targetLevelOf(levels)
	if !validateSuspendRequest(levels, target, isPowerDown) {
		return InvalidParameters
	}

	// Fast path: standby requested at the CPU level only.
	if !isPowerDown && target == 0 {
		data.setLocalCPUState(levels[0])
		c.simulateWFI(ctx)
		data.setLocalCPUState(StateOn)
		return Success
	}

	if isPowerDown && !validateEntryPoint(entryPoint) {
		return InvalidAddress
	}

	return c.startCPUSuspend(ctx, cpuIdx, data, levels, target, isPowerDown, entryPoint, contextID)
}

// startCPUSuspend is the slow (power-down-capable) suspend path.
func (c *Context) startCPUSuspend(ctx context.Context, cpuIdx int, data *CPUData, levels [MaxLevel + 1]LocalState, target int, isPowerDown bool, entryPoint, contextID uint64) Status {
	parents, err := c.Tree.Parents(cpuIdx, target)
	if err != nil {
		return InternalFailure
	}

	c.Tree.AcquireLocks(parents, target)

	skipWFI := c.hasPendingInterrupt(cpuIdx)

	var state StateInfo
	state[0] = levels[0]
	for lvl := 1; lvl <= target; lvl++ {
		state[lvl] = levels[lvl]
	}
	if !skipWFI {
		if err := c.Tree.Coordinate(cpuIdx, parents, target, &state); err != nil {
			c.Tree.ReleaseLocks(parents, target)
			return InternalFailure
		}
		data.setLocalCPUState(state[0])

		if isPowerDown {
			data.targetSuspendLevel = target
			cacheCleanInvalidate()
			c.spintable[cpuIdx].entryPoint = entryPoint
			c.spintable[cpuIdx].contextID = contextID
			cacheCleanInvalidate()
		}
	}

	c.Tree.ReleaseLocks(parents, target)

	if skipWFI {
		return Success
	}

	c.simulateWFI(ctx)

	return c.finishCPUSuspend(cpuIdx, data, parents, target)
}

// finishCPUSuspend re-acquires the locks used on the way down and
// coordinates every level on the path back to ON, starting from a fresh
// all-ON state (the tree's current per-node states are not read back).
func (c *Context) finishCPUSuspend(cpuIdx int, data *CPUData, parents []int, target int) Status {
	c.Tree.AcquireLocks(parents, target)
	defer c.Tree.ReleaseLocks(parents, target)

	var state StateInfo
	for lvl := 0; lvl <= MaxLevel; lvl++ {
		state[lvl] = StateOn
	}

	if err := c.Tree.Coordinate(cpuIdx, parents, target, &state); err != nil {
		return InternalFailure
	}

	data.setLocalCPUState(StateOn)
	data.setAffinityState(AffinityOn)

	return Success
}

// hasPendingInterrupt reports whether a hardware interrupt is already
// pending for cpuIdx. This build has no GIC model, so suspend never
// observes a pending interrupt ahead of WFI; a platform wiring in a real
// interrupt controller would override this by checking it directly.
func (c *Context) hasPendingInterrupt(cpuIdx int) bool {
	return false
}

// simulateWFI blocks the calling goroutine until ctx is cancelled, standing
// in for the WFI instruction: a suspended physical core does no further
// work until woken by an interrupt or an explicit cpu_on-style event. The
// blocked duration is recorded as guest time, the same accounting the
// teacher's timeslice package uses for time spent not running hypervisor
// code.
func (c *Context) simulateWFI(ctx context.Context) {
	start := time.Now()
	<-ctx.Done()
	timeslice.Record(kindWFI, time.Since(start))
}

// SystemOff implements SYSTEM_OFF: it logs the transition and invokes
// OnSystemOff. It returns once the hook returns (at once when the hook is
// nil), and the dispatcher then reports Success.
func (c *Context) SystemOff() {
	c.log.Info("system_off: powering down")
	if c.OnSystemOff != nil {
		c.OnSystemOff()
	}
}

// SystemReset implements SYSTEM_RESET: it logs the request and invokes
// OnSystemReset. It returns once the hook returns (at once when the hook is
// nil), and the dispatcher then reports Success.
func (c *Context) SystemReset() {
	c.log.Info("system_reset: requesting platform reset")
	if c.OnSystemReset != nil {
		c.OnSystemReset()
	}
}

// Features implements PSCI_FEATURES: SUCCESS if fid is present in the
// capability mask, else NOT_SUPPORTED.
func (c *Context) Features(fid uint32) Status {
	if c.Capabilities.Supports(fid) {
		return Success
	}
	return NotSupported
}

// MemProtect implements PSCI MEM_PROTECT: a stub that always reports the
// feature disabled (0), matching a platform with no dedicated protected
// memory region to toggle.
func (c *Context) MemProtect(enable bool) int32 {
	return 0
}

// MemProtectCheckRange implements MEM_PROTECT_CHECK_RANGE: a stub that
// always reports the range as unprotected and therefore safe to access.
func (c *Context) MemProtectCheckRange(base, length uint64) Status {
	return Success
}
