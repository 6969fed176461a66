// Package soc describes the static per-chip facts the PSCI power-domain
// tree is built from: the breadth-first child-count descriptor, the MMIO
// layout of the "CPU start" register, and the capability mask PSCI_FEATURES
// reports against.
package soc

import "fmt"

// Identifier names an Apple-silicon SoC by its internal codename, the way
// the ADT itself identifies a board (e.g. "t8103" for the M1).
type Identifier string

const (
	M1      Identifier = "t8103"
	M1Pro   Identifier = "t6000"
	M1Max   Identifier = "t6001"
	M1Ultra Identifier = "t6002"
	M2      Identifier = "t8112"
)

// Topology is the compile-time descriptor for one SoC family: a breadth-first
// list of child counts (root down to cores), plus the MMIO constants needed
// to arm the "CPU start" register on cpu_off.
//
// ChildCounts is read breadth-first: position 0 is the child count of a
// bootstrap virtual parent (always 1, producing the single system node),
// position 1 is the system node's own child count (the cluster count), and
// the remaining entries are each cluster's child count (cores per cluster),
// in cluster order. A two-die "Ultra" variant simply doubles the
// cluster-count entry and repeats the per-cluster entries for the second die.
type Topology struct {
	Identifier Identifier

	ChildCounts []int

	// CPUStartMMIOOffset is added to the platform's pmgr base to locate the
	// "CPU start" register.
	CPUStartMMIOOffset uint64

	// DieStride is added per die index when computing the CPU-start register
	// address for multi-die ("Ultra") parts: addr = base + die*DieStride + CPUStartMMIOOffset.
	DieStride uint64

	// NumDies is 1 for every part except the Ultra-class fused dual-die parts.
	NumDies int

	// ClusterTypes gives the ADT "cluster-type" ("E" or "P") for each cluster
	// entry in ChildCounts, in the same order, used to set bit16 of a CPU's
	// synthesized MPIDR.
	ClusterTypes []string
}

// Descriptors holds the compile-time topology table, keyed by SoC identifier.
var Descriptors = map[Identifier]Topology{
	M1: {
		Identifier:         M1,
		ChildCounts:        []int{1, 2, 4, 4}, // 1 root -> 2 clusters -> {4 E-cores, 4 P-cores}
		CPUStartMMIOOffset: 0x20000,
		DieStride:          0,
		NumDies:            1,
		ClusterTypes:       []string{"E", "P"},
	},
	M1Pro: {
		Identifier:         M1Pro,
		ChildCounts:        []int{1, 2, 2, 8}, // 2 E-cores, 8 P-cores
		CPUStartMMIOOffset: 0x20000,
		DieStride:          0,
		NumDies:            1,
		ClusterTypes:       []string{"E", "P"},
	},
	M1Max: {
		Identifier:         M1Max,
		ChildCounts:        []int{1, 2, 2, 8}, // same cluster shape as Pro, more GPU/media, not modeled here
		CPUStartMMIOOffset: 0x20000,
		DieStride:          0,
		NumDies:            1,
		ClusterTypes:       []string{"E", "P"},
	},
	M1Ultra: {
		Identifier: M1Ultra,
		// Two fused M1 Max dies under a single root: cluster list doubled.
		ChildCounts:        []int{1, 4, 2, 8, 2, 8},
		CPUStartMMIOOffset: 0x20000,
		DieStride:          0x200000000,
		NumDies:            2,
		ClusterTypes:       []string{"E", "P", "E", "P"},
	},
	M2: {
		Identifier:         M2,
		ChildCounts:        []int{1, 2, 4, 4},
		CPUStartMMIOOffset: 0x20000,
		DieStride:          0,
		NumDies:            1,
		ClusterTypes:       []string{"E", "P"},
	},
}

// Lookup returns the compile-time topology for id, or an error if the SoC
// identifier is unrecognized.
func Lookup(id Identifier) (Topology, error) {
	t, ok := Descriptors[id]
	if !ok {
		return Topology{}, fmt.Errorf("soc: unknown identifier %q", id)
	}
	return t, nil
}

// NumClusters reports how many cluster nodes this topology builds, derived
// from ChildCounts rather than stored separately so the two can never
// disagree.
func (t Topology) NumClusters() int {
	if len(t.ChildCounts) < 2 {
		return 0
	}
	return t.ChildCounts[1]
}

// NumCPUs reports the total CPU count across every cluster.
func (t Topology) NumCPUs() int {
	n := t.NumClusters()
	total := 0
	for _, c := range t.ChildCounts[2 : 2+n] {
		total += c
	}
	return total
}

// CPUStartRegisterAddress computes the physical address of the "CPU start"
// register for the given die: base + die*die_stride + offset.
func (t Topology) CPUStartRegisterAddress(pmgrBase uint64, die int) uint64 {
	return pmgrBase + uint64(die)*t.DieStride + t.CPUStartMMIOOffset
}

// CPUStartBit computes the bitmap value written to the CPU start register to
// arm a given cluster/core pair for power-off.
func CPUStartBit(clusterIndex, localCoreNumber int) uint64 {
	return 1 << uint(4*clusterIndex+localCoreNumber)
}
