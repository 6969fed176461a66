package trap

import (
	"context"
	"testing"

	"github.com/theoparis/m1n1/internal/psci"
	"github.com/theoparis/m1n1/internal/soc"
)

func newTestCore(t *testing.T) *psci.Context {
	t.Helper()
	topo, err := soc.Lookup(soc.M1)
	if err != nil {
		t.Fatalf("soc.Lookup(M1): %v", err)
	}
	tree, err := psci.Build(topo)
	if err != nil {
		t.Fatalf("psci.Build: %v", err)
	}
	return psci.NewContext(tree, nil)
}

func TestClassOfExtractsECField(t *testing.T) {
	f := &Frame{ESR: uint64(ECSMC64) << 26}
	if got := f.Class(); got != ECSMC64 {
		t.Errorf("Class() = %#x, want %#x", got, ECSMC64)
	}
}

func TestIsSMCRecognizesBothEncodings(t *testing.T) {
	for _, ec := range []ExceptionClass{ECSMC32, ECSMC64} {
		f := &Frame{ESR: uint64(ec) << 26}
		if !f.IsSMC() {
			t.Errorf("IsSMC() = false for EC %#x, want true", ec)
		}
	}
	f := &Frame{ESR: uint64(ECDataAbort) << 26}
	if f.IsSMC() {
		t.Error("IsSMC() = true for a data abort frame, want false")
	}
}

func TestHandleIgnoresNonSMCExceptions(t *testing.T) {
	core := newTestCore(t)
	f := &Frame{ESR: uint64(ECDataAbort) << 26, ELR: 0x1000}

	if handled := Handle(context.Background(), core, 0, f); handled {
		t.Error("Handle() = true for a data abort, want false")
	}
	if f.ELR != 0x1000 {
		t.Error("Handle() must not advance ELR when it doesn't own the exception")
	}
}

func TestHandleRoutesSMCIntoDispatchAndAdvancesELR(t *testing.T) {
	core := newTestCore(t)
	f := &Frame{
		ESR: uint64(ECSMC64) << 26,
		ELR: 0x2000,
		X0:  0x84000000, // PSCI_VERSION
	}

	if handled := Handle(context.Background(), core, 0, f); !handled {
		t.Fatal("Handle() = false for an SMC64 frame, want true")
	}
	if f.ELR != 0x2004 {
		t.Errorf("ELR after Handle() = %#x, want 0x2004", f.ELR)
	}
	if f.X0 != uint64(1<<16|1) {
		t.Errorf("X0 after PSCI_VERSION = %#x, want 0x10001", f.X0)
	}
}
