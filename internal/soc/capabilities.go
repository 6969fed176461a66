package soc

// Capabilities is the bitset PSCI_FEATURES is queried against. Bit fid&0x1F
// is set for every SMC32 function ID this core implements; mask64 carries
// the same bit for the SMC64 variants that exist.
type Capabilities struct {
	mask   uint32
	mask64 uint32
}

// NewCapabilities builds the fixed capability mask for this PSCI core,
// including PSCI_MIGRATE_INFO_TYPE: real guest kernels probe it during PSCI
// init even though it isn't in the minimal dispatch table, so its absence
// would make the capability mask lie about what the dispatcher actually
// answers.
func NewCapabilities() Capabilities {
	c := Capabilities{}
	for _, fid := range []uint32{
		0x84000000, // PSCI_VERSION
		0x84000001, // CPU_SUSPEND
		0x84000002, // CPU_OFF
		0x84000003, // CPU_ON
		0x84000004, // AFFINITY_INFO
		0x84000006, // MIGRATE_INFO_TYPE
		0x84000008, // SYSTEM_OFF
		0x84000009, // SYSTEM_RESET
		0x8400000A, // FEATURES
		0x84000013, // MEM_PROTECT
		0x84000014, // MEM_PROTECT_CHECK_RANGE
	} {
		c.mask |= 1 << (fid & 0x1F)
	}
	for _, fid := range []uint32{
		0xC4000001, // CPU_SUSPEND (SMC64)
		0xC4000003, // CPU_ON (SMC64)
		0xC4000004, // AFFINITY_INFO (SMC64)
		0xC4000014, // MEM_PROTECT_CHECK_RANGE (SMC64)
	} {
		c.mask64 |= 1 << (fid & 0x1F)
	}
	return c
}

// Supports reports whether fid is implemented. The 32-bit bit position is
// always checked; if bit 30 of fid is set (the SMC64 calling convention) the
// 64-bit mask must also carry that bit.
func (c Capabilities) Supports(fid uint32) bool {
	bit := uint32(1) << (fid & 0x1F)
	if c.mask&bit == 0 {
		return false
	}
	if fid&(1<<30) != 0 {
		return c.mask64&bit != 0
	}
	return true
}
