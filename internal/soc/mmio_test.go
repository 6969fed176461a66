package soc

import "testing"

func TestRegisterReadWrite(t *testing.T) {
	r := NewRegister(0x23b700000)
	if got := r.Read(); got != 0 {
		t.Errorf("fresh register Read() = %#x, want 0", got)
	}
	r.Write(0x5)
	if got := r.Read(); got != 0x5 {
		t.Errorf("Read() after Write(0x5) = %#x, want 0x5", got)
	}
	if got := r.Address(); got != 0x23b700000 {
		t.Errorf("Address() = %#x, want 0x23b700000", got)
	}
}

