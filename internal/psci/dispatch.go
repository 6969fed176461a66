package psci

import (
	"context"
	"time"

	"github.com/theoparis/m1n1/internal/timeslice"
)

// FunctionID is a PSCI SMC function identifier, the value the guest places
// in X0 before executing SMC #0.
type FunctionID uint32

// smc64Bit (bit 30) distinguishes the SMC64 calling convention (1, 64-bit
// arguments) from SMC32 (0, arguments truncated to 32 bits before use).
const smc64Bit = uint32(1) << 30

const (
	fidPSCIVersion     FunctionID = 0x84000000
	fidCPUSuspend32    FunctionID = 0x84000001
	fidCPUSuspend64    FunctionID = 0xC4000001
	fidCPUOff          FunctionID = 0x84000002
	fidCPUOn32         FunctionID = 0x84000003
	fidCPUOn64         FunctionID = 0xC4000003
	fidAffinityInfo32  FunctionID = 0x84000004
	fidAffinityInfo64  FunctionID = 0xC4000004
	fidMigrateInfoType FunctionID = 0x84000006
	fidSystemOff       FunctionID = 0x84000008
	fidSystemReset     FunctionID = 0x84000009
	fidFeatures        FunctionID = 0x8400000A
	fidMemProtect      FunctionID = 0x84000013
	fidMemCheckRange32 FunctionID = 0x84000014
	fidMemCheckRange64 FunctionID = 0xC4000014
)

// Args is the guest's SMC argument set, already widened to 64 bits. For an
// SMC32 call Dispatch truncates X1-X3 to their low 32 bits before handing
// them to a handler, per the calling convention.
type Args struct {
	X1, X2, X3 uint64
}

// Result is what the dispatcher writes back into the guest's register
// file: X0 always carries the primary return value (typically a Status),
// X1-X3 are only meaningful for the handful of calls that define them.
type Result struct {
	X0, X1, X2, X3 uint64
}

// Dispatch demultiplexes one SMC call on behalf of callerCPU. ctx governs
// any call that may block the calling goroutine (CPU_OFF's deep sleep,
// CPU_SUSPEND's simulated WFI); cancelling it is how a test or a real
// interrupt-controller integration wakes a parked core.
func (c *Context) Dispatch(ctx context.Context, callerCPU int, x0 uint64, args Args) Result {
	start := time.Now()
	defer func() { timeslice.Record(kindDispatch, time.Since(start)) }()

	fid := FunctionID(x0)
	isSMC64 := uint32(x0)&smc64Bit != 0
	if !isSMC64 {
		args.X1 &= 0xFFFFFFFF
		args.X2 &= 0xFFFFFFFF
		args.X3 &= 0xFFFFFFFF
	}

	switch fid {
	case fidPSCIVersion:
		return Result{X0: uint64(1<<16 | 1)}

	case fidCPUSuspend32, fidCPUSuspend64:
		coordStart := time.Now()
		status := c.CPUSuspend(ctx, callerCPU, uint32(args.X1), args.X2, args.X3)
		timeslice.Record(kindCoordinate, time.Since(coordStart))
		return Result{X0: uint64(uint32(int32(status)))}

	case fidCPUOff:
		status, err := c.CPUOff(ctx, callerCPU)
		if err != nil {
			status = InternalFailure
		}
		return Result{X0: uint64(uint32(int32(status)))}

	case fidCPUOn32, fidCPUOn64:
		status := c.CPUOn(args.X1, args.X2, args.X3)
		return Result{X0: uint64(uint32(int32(status)))}

	case fidAffinityInfo32, fidAffinityInfo64:
		idx, found := c.Registry.FindByMPIDR(args.X1)
		if !found {
			status := InvalidParameters
			return Result{X0: uint64(uint32(int32(status)))}
		}
		data, _ := c.Registry.Get(idx)
		return Result{X0: uint64(data.AffinityState())}

	case fidMigrateInfoType:
		// 2 = "Trusted OS does not require migration": this platform has no
		// trusted OS at all, so no CPU is ever a valid migration target.
		return Result{X0: 2}

	case fidSystemOff:
		c.SystemOff()
		return Result{X0: uint64(uint32(int32(Success)))}

	case fidSystemReset:
		c.SystemReset()
		return Result{X0: uint64(uint32(int32(Success)))}

	case fidFeatures:
		status := c.Features(uint32(args.X1))
		return Result{X0: uint64(uint32(int32(status)))}

	case fidMemProtect:
		return Result{X0: uint64(uint32(c.MemProtect(args.X1 != 0)))}

	case fidMemCheckRange32, fidMemCheckRange64:
		status := c.MemProtectCheckRange(args.X1, args.X2)
		return Result{X0: uint64(uint32(int32(status)))}

	default:
		status := NotSupported
		return Result{X0: uint64(uint32(int32(status)))}
	}
}
