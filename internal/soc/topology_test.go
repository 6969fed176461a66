package soc

import "testing"

func TestLookupUnknown(t *testing.T) {
	if _, err := Lookup(Identifier("t0000")); err == nil {
		t.Fatal("expected error for unknown identifier")
	}
}

func TestM1Topology(t *testing.T) {
	topo, err := Lookup(M1)
	if err != nil {
		t.Fatalf("Lookup(M1): %v", err)
	}
	if got, want := topo.NumClusters(), 2; got != want {
		t.Errorf("NumClusters() = %d, want %d", got, want)
	}
	if got, want := topo.NumCPUs(), 8; got != want {
		t.Errorf("NumCPUs() = %d, want %d", got, want)
	}
	if topo.NumDies != 1 {
		t.Errorf("NumDies = %d, want 1", topo.NumDies)
	}
}

func TestM1UltraTwoDieDoubling(t *testing.T) {
	topo, err := Lookup(M1Ultra)
	if err != nil {
		t.Fatalf("Lookup(M1Ultra): %v", err)
	}
	if got, want := topo.NumClusters(), 4; got != want {
		t.Errorf("NumClusters() = %d, want %d", got, want)
	}
	if got, want := topo.NumCPUs(), 20; got != want {
		t.Errorf("NumCPUs() = %d, want %d", got, want)
	}
	if topo.NumDies != 2 {
		t.Errorf("NumDies = %d, want 2", topo.NumDies)
	}

	addr0 := topo.CPUStartRegisterAddress(0x200000000, 0)
	addr1 := topo.CPUStartRegisterAddress(0x200000000, 1)
	if addr1-addr0 != topo.DieStride {
		t.Errorf("die 1 address did not advance by DieStride: %#x vs %#x", addr0, addr1)
	}
}

func TestCPUStartBit(t *testing.T) {
	cases := []struct {
		cluster, core int
		want          uint64
	}{
		{0, 0, 1},
		{0, 3, 1 << 3},
		{1, 0, 1 << 4},
		{2, 1, 1 << 9},
	}
	for _, c := range cases {
		if got := CPUStartBit(c.cluster, c.core); got != c.want {
			t.Errorf("CPUStartBit(%d, %d) = %#x, want %#x", c.cluster, c.core, got, c.want)
		}
	}
}

func TestCPUStartRegisterAddressSingleDie(t *testing.T) {
	topo, err := Lookup(M1)
	if err != nil {
		t.Fatalf("Lookup(M1): %v", err)
	}
	got := topo.CPUStartRegisterAddress(0x23b700000, 0)
	want := uint64(0x23b700000 + 0x20000)
	if got != want {
		t.Errorf("CPUStartRegisterAddress = %#x, want %#x", got, want)
	}
}
