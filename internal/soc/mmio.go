package soc

import (
	"sync"
)

// Register is a byte-addressable MMIO register, used here for the pmgr
// "CPU start" register: cpu_off arms it with a per-core bit so the SoC's
// power-management hardware finishes the power-down once the core reaches
// deep sleep.
type Register struct {
	mu    sync.Mutex
	addr  uint64
	value uint64
}

// NewRegister creates a zeroed MMIO register at the given physical address.
func NewRegister(addr uint64) *Register {
	return &Register{addr: addr}
}

// Address returns the register's physical address.
func (r *Register) Address() uint64 { return r.addr }

// Write stores value into the register. Real hardware has no readback
// contract for this register; Write always succeeds.
func (r *Register) Write(value uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.value = value
}

// Read returns the last value written, for test observation.
func (r *Register) Read() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}
