package psci

import (
	"testing"

	"github.com/theoparis/m1n1/internal/soc"
)

func buildM1(t *testing.T) *Tree {
	t.Helper()
	topo, err := soc.Lookup(soc.M1)
	if err != nil {
		t.Fatalf("soc.Lookup(M1): %v", err)
	}
	tree, err := Build(topo)
	if err != nil {
		t.Fatalf("Build(M1): %v", err)
	}
	return tree
}

func TestBuildM1Shape(t *testing.T) {
	tree := buildM1(t)

	if got, want := len(tree.CPUs), 8; got != want {
		t.Fatalf("len(CPUs) = %d, want %d", got, want)
	}
	// 1 system node + 2 cluster nodes.
	if got, want := len(tree.NonCPU), 3; got != want {
		t.Fatalf("len(NonCPU) = %d, want %d", got, want)
	}
}

func TestBuildM1ClusterTypesAndMPIDR(t *testing.T) {
	tree := buildM1(t)

	for i, cpu := range tree.CPUs {
		if cpu.MPIDR&(1<<31) == 0 {
			t.Errorf("cpu %d: MPIDR bit31 not set: %#x", i, cpu.MPIDR)
		}
		wantP := i >= 4 // M1 ChildCounts: 4 E-cores then 4 P-cores
		gotP := cpu.MPIDR&(1<<16) != 0
		if gotP != wantP {
			t.Errorf("cpu %d: MPIDR P-core bit = %v, want %v", i, gotP, wantP)
		}
	}
}

func TestParentsChainLength(t *testing.T) {
	tree := buildM1(t)

	parents, err := tree.Parents(0, MaxLevel)
	if err != nil {
		t.Fatalf("Parents(0, MaxLevel): %v", err)
	}
	if got, want := len(parents), MaxLevel; got != want {
		t.Fatalf("len(parents) = %d, want %d", got, want)
	}
	// parents[0] is the cluster, parents[1] is the system node.
	if tree.NonCPU[parents[0]].Level != LevelCluster {
		t.Errorf("parents[0] level = %d, want %d", tree.NonCPU[parents[0]].Level, LevelCluster)
	}
	if tree.NonCPU[parents[1]].Level != LevelSystem {
		t.Errorf("parents[1] level = %d, want %d", tree.NonCPU[parents[1]].Level, LevelSystem)
	}
}

func TestParentsAtCPULevelIsEmpty(t *testing.T) {
	tree := buildM1(t)

	parents, err := tree.Parents(3, LevelCPU)
	if err != nil {
		t.Fatalf("Parents(3, LevelCPU): %v", err)
	}
	if len(parents) != 0 {
		t.Fatalf("Parents(cpu, LevelCPU) = %v, want empty chain", parents)
	}
}

func TestParentsRejectsOutOfRangeLevel(t *testing.T) {
	tree := buildM1(t)

	if _, err := tree.Parents(0, MaxLevel+1); err == nil {
		t.Error("Parents with endLevel beyond MaxLevel: expected error, got nil")
	}
	if _, err := tree.Parents(0, LevelCPU-1); err == nil {
		t.Error("Parents with endLevel below LevelCPU: expected error, got nil")
	}
	if _, err := tree.Parents(len(tree.CPUs), MaxLevel); err == nil {
		t.Error("Parents with out-of-range cpu index: expected error, got nil")
	}
}

func TestUpdateLimitsSiblingCounts(t *testing.T) {
	tree := buildM1(t)

	for _, idx := range []int{0} {
		parents, err := tree.Parents(idx, MaxLevel)
		if err != nil {
			t.Fatalf("Parents: %v", err)
		}
		cluster := tree.NonCPU[parents[0]]
		if cluster.NumCPUSiblings != 4 {
			t.Errorf("cluster sibling count = %d, want 4", cluster.NumCPUSiblings)
		}
		system := tree.NonCPU[parents[1]]
		if system.NumCPUSiblings != 8 {
			t.Errorf("system sibling count = %d, want 8", system.NumCPUSiblings)
		}
	}
}

func TestFreshTreeStartsOn(t *testing.T) {
	tree := buildM1(t)
	for i, n := range tree.NonCPU {
		if n.LocalPowerState() != StateOn {
			t.Errorf("NonCPU[%d].LocalPowerState() = %v, want ON", i, n.LocalPowerState())
		}
	}
}

func TestSetLocalPowerStateFlushes(t *testing.T) {
	tree := buildM1(t)
	before := FlushCount()
	tree.NonCPU[0].setLocalPowerState(StateOff)
	after := FlushCount()
	if after <= before {
		t.Errorf("FlushCount() did not increase: before=%d after=%d", before, after)
	}
	if tree.NonCPU[0].LocalPowerState() != StateOff {
		t.Error("setLocalPowerState did not persist the new state")
	}
}

func TestBuildRejectsIncompleteTopology(t *testing.T) {
	topo := soc.Topology{Identifier: "bogus", ChildCounts: []int{1}}
	if _, err := Build(topo); err == nil {
		t.Error("Build with a one-entry descriptor: expected error, got nil")
	}
}
