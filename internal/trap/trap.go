// Package trap models the EL2 synchronous-exception entry path: capturing
// the trap frame a lower-EL exception leaves behind, classifying it by
// exception class, and routing SMC calls into the PSCI dispatcher without
// taking any broader hypervisor lock.
package trap

import (
	"context"

	"github.com/theoparis/m1n1/internal/psci"
)

// ExceptionClass is the ESR_EL2.EC field: what kind of synchronous
// exception trapped from the guest.
type ExceptionClass uint8

const (
	ECUnknown    ExceptionClass = 0x00
	ECWFx        ExceptionClass = 0x01
	ECSMC32      ExceptionClass = 0x13 // AArch32 SMC
	ECHVC64      ExceptionClass = 0x16
	ECSMC64      ExceptionClass = 0x17 // AArch64 SMC
	ECSysReg     ExceptionClass = 0x18
	ECInstrAbort ExceptionClass = 0x20
	ECDataAbort  ExceptionClass = 0x24
)

// classOf extracts bits [31:26] of ESR_EL2, the EC field.
func classOf(esr uint64) ExceptionClass {
	return ExceptionClass((esr >> 26) & 0x3F)
}

// Frame is the register state captured on synchronous exception entry from
// a lower exception level: the minimum the PSCI dispatcher and the
// fallback system-register/data-abort path both need.
type Frame struct {
	SPSR  uint64
	ELR   uint64
	ESR   uint64
	FAR   uint64
	SPEL0 uint64
	SPEL1 uint64

	X0, X1, X2, X3 uint64
}

// Class reports this frame's exception class.
func (f *Frame) Class() ExceptionClass {
	return classOf(f.ESR)
}

// IsSMC reports whether this frame is an SMC call (AArch64 or AArch32).
func (f *Frame) IsSMC() bool {
	c := f.Class()
	return c == ECSMC64 || c == ECSMC32
}

// Handle routes a synchronous exception from callerCPU through the PSCI
// core. It returns true if the exception was an SMC call the dispatcher
// handled, in which case it has already advanced f.ELR past the
// instruction and written the dispatcher's result into f.X0-f.X3; the
// caller resumes the guest directly. A false return means the frame must
// fall through to the generic system-register / data-abort / debug path,
// which is out of scope for this core.
func Handle(ctx context.Context, core *psci.Context, callerCPU int, f *Frame) bool {
	if !f.IsSMC() {
		return false
	}

	result := core.Dispatch(ctx, callerCPU, f.X0, psci.Args{X1: f.X1, X2: f.X2, X3: f.X3})

	f.X0, f.X1, f.X2, f.X3 = result.X0, result.X1, result.X2, result.X3
	f.ELR += 4

	return true
}
