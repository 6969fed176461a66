package adt

import (
	"testing"

	"github.com/theoparis/m1n1/internal/fdt"
	"github.com/theoparis/m1n1/internal/soc"
)

// buildPlatformBlob constructs a minimal platform-description blob shaped
// like a real one: two clusters of four cores each under /cpus, plus an
// /arm-io/pmgr node with the MMIO window PSCI needs. It uses fdt.Builder
// token by token, the same way a boot-time FDT is assembled, rather than
// fdt.Build's Node-tree form, so both of internal/fdt's construction paths
// get exercised somewhere in the tree.
func buildPlatformBlob(t *testing.T) []byte {
	t.Helper()

	b := fdt.NewBuilder()
	b.BeginNode("")
	b.BeginNode("cpus")
	for i := 0; i < 8; i++ {
		clusterType := "E"
		clusterCore := i
		dieClusterID := uint32(0)
		if i >= 4 {
			clusterType = "P"
			clusterCore = i - 4
			dieClusterID = 1
		}
		b.BeginNode("cpu" + string(rune('0'+i)))
		b.AddPropertyU32("cpu-id", uint32(i))
		b.AddPropertyU32("reg", uint32(i))
		b.AddPropertyU32("die-cluster-id", dieClusterID)
		b.AddPropertyU32("die-id", 0)
		b.AddPropertyU32("cluster-core-id", uint32(clusterCore))
		b.AddPropertyString("cluster-type", clusterType)
		b.EndNode()
	}
	b.EndNode() // cpus

	b.BeginNode("arm-io")
	b.BeginNode("pmgr")
	b.AddPropertyU64Pair("reg", 0x23b700000, 0x10000)
	b.EndNode() // pmgr
	b.EndNode() // arm-io

	b.EndNode() // root

	return b.Build()
}

func TestParseExtractsCPUsAndPMgr(t *testing.T) {
	plat, err := Parse(buildPlatformBlob(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(plat.CPUs) != 8 {
		t.Fatalf("len(CPUs) = %d, want 8", len(plat.CPUs))
	}
	if plat.PMgrBase != 0x23b700000 || plat.PMgrSize != 0x10000 {
		t.Errorf("pmgr reg = (%#x, %#x), want (0x23b700000, 0x10000)", plat.PMgrBase, plat.PMgrSize)
	}

	last := plat.CPUs[7]
	if last.ClusterType != "P" || last.DieClusterID != 1 || last.ClusterCoreID != 3 {
		t.Errorf("CPUs[7] = %+v, want a P-core at die-cluster 1, core 3", last)
	}
}

func TestParseRejectsMissingCPUsNode(t *testing.T) {
	b := fdt.NewBuilder()
	b.BeginNode("")
	b.EndNode()
	if _, err := Parse(b.Build()); err == nil {
		t.Error("Parse accepted a blob with no /cpus node")
	}
}

func TestBuildTopologyGroupsClusters(t *testing.T) {
	plat, err := Parse(buildPlatformBlob(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	topo, err := BuildTopology(soc.M1, plat)
	if err != nil {
		t.Fatalf("BuildTopology: %v", err)
	}

	if got, want := topo.NumClusters(), 2; got != want {
		t.Errorf("NumClusters() = %d, want %d", got, want)
	}
	if got, want := topo.NumCPUs(), 8; got != want {
		t.Errorf("NumCPUs() = %d, want %d", got, want)
	}
	if topo.NumDies != 1 {
		t.Errorf("NumDies = %d, want 1 (every CPU reported die-id 0)", topo.NumDies)
	}
	if len(topo.ClusterTypes) != 2 || topo.ClusterTypes[0] != "E" || topo.ClusterTypes[1] != "P" {
		t.Errorf("ClusterTypes = %v, want [E P]", topo.ClusterTypes)
	}
}

func TestBuildTopologyRejectsEmptyPlatform(t *testing.T) {
	if _, err := BuildTopology(soc.M1, Platform{}); err == nil {
		t.Error("BuildTopology accepted a platform with no CPU nodes")
	}
}
