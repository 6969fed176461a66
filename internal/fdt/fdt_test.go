package fdt

import (
	"bytes"
	"testing"
)

func TestBuildParseRoundTrip(t *testing.T) {
	root := Node{
		Name: "",
		Properties: map[string]Property{
			"compatible": {Strings: []string{"apple,t8103"}},
		},
		Children: []Node{
			{
				Name: "cpus",
				Children: []Node{
					{
						Name: "cpu0",
						Properties: map[string]Property{
							"cpu-id": {U32: []uint32{0}},
						},
					},
				},
			},
		},
	}

	blob, err := Build(root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	parsed, err := Parse(blob)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if parsed.Name != "" {
		t.Errorf("root name = %q, want empty", parsed.Name)
	}
	if len(parsed.Children) != 1 || parsed.Children[0].Name != "cpus" {
		t.Fatalf("children = %+v, want a single %q node", parsed.Children, "cpus")
	}
	cpus := parsed.Children[0]
	if len(cpus.Children) != 1 || cpus.Children[0].Name != "cpu0" {
		t.Fatalf("cpus children = %+v, want a single %q node", cpus.Children, "cpu0")
	}

	// Parse cannot recover a property's original typed kind from the wire
	// format; it always comes back as raw Bytes, so compare on that basis.
	compatible, ok := parsed.Properties["compatible"]
	if !ok {
		t.Fatal("root lost its compatible property")
	}
	want := append([]byte("apple,t8103"), 0)
	if !bytes.Equal(compatible.Bytes, want) {
		t.Errorf("compatible bytes = %q, want %q", compatible.Bytes, want)
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	blob := make([]byte, fdtHeaderSize)
	if _, err := Parse(blob); err == nil {
		t.Error("Parse accepted a zeroed header with no FDT magic")
	}
}

func TestParseRejectsTruncatedBlob(t *testing.T) {
	if _, err := Parse([]byte{1, 2, 3}); err == nil {
		t.Error("Parse accepted a blob shorter than the header")
	}
}

// TestBuilderParseRoundTrip constructs a small tree (a root property plus an
// /arm-io/pmgr node with a reg pair) token by token with the lower-level
// Builder and confirms Parse can decode what it emits.
func TestBuilderParseRoundTrip(t *testing.T) {
	b := NewBuilder()
	b.BeginNode("")
	b.AddPropertyU32("boot-cpu", 0)
	b.BeginNode("arm-io")
	b.BeginNode("pmgr")
	b.AddPropertyU64Pair("reg", 0x23b700000, 0x10000)
	b.EndNode()
	b.EndNode()
	b.EndNode()

	parsed, err := Parse(b.Build())
	if err != nil {
		t.Fatalf("Parse(Builder output): %v", err)
	}

	if len(parsed.Children) != 1 || parsed.Children[0].Name != "arm-io" {
		t.Fatalf("children = %+v, want a single %q node", parsed.Children, "arm-io")
	}
	pmgr := parsed.Children[0].Children
	if len(pmgr) != 1 || pmgr[0].Name != "pmgr" {
		t.Fatalf("arm-io children = %+v, want a single %q node", pmgr, "pmgr")
	}
	reg, ok := pmgr[0].Properties["reg"]
	if !ok || len(reg.Bytes) != 16 {
		t.Fatalf("pmgr reg property = %+v, want 16 raw bytes", reg)
	}
}
