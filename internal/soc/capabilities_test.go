package soc

import "testing"

func TestCapabilitiesSupportsSMC32(t *testing.T) {
	c := NewCapabilities()

	known := []uint32{
		0x84000000, // PSCI_VERSION
		0x84000002, // CPU_OFF
		0x84000008, // SYSTEM_OFF
		0x8400000A, // FEATURES
	}
	for _, fid := range known {
		if !c.Supports(fid) {
			t.Errorf("Supports(%#x) = false, want true", fid)
		}
	}

	if c.Supports(0x8400FFFF) {
		t.Error("Supports(0x8400FFFF) = true, want false for unimplemented fid")
	}
}

func TestCapabilitiesSupportsSMC64RequiresSeparateMask(t *testing.T) {
	c := NewCapabilities()

	// CPU_SUSPEND has both SMC32 and SMC64 forms.
	if !c.Supports(0x84000001) {
		t.Error("Supports(CPU_SUSPEND SMC32) = false, want true")
	}
	if !c.Supports(0xC4000001) {
		t.Error("Supports(CPU_SUSPEND SMC64) = false, want true")
	}

	// CPU_OFF has no SMC64 form at all.
	if c.Supports(0xC4000002) {
		t.Error("Supports(CPU_OFF SMC64) = true, want false: no such call exists")
	}
}

func TestCapabilitiesMigrateInfoType(t *testing.T) {
	c := NewCapabilities()
	if !c.Supports(0x84000006) {
		t.Error("Supports(MIGRATE_INFO_TYPE) = false, want true")
	}
}
