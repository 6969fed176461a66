// Package adt reads the platform description the bootloader hands the
// hypervisor at EL2 entry, in the same flattened, node/property shape
// internal/fdt already models, and extracts the per-CPU facts and MMIO
// regions the PSCI core needs: cpu-id, reg, die-cluster-id, die-id,
// cluster-core-id, cluster-type per CPU node, and the /arm-io/pmgr
// region's base address.
package adt

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/theoparis/m1n1/internal/fdt"
	"github.com/theoparis/m1n1/internal/soc"
)

// CPUNode is one decoded "cpuN" node under /cpus.
type CPUNode struct {
	Name          string
	CPUID         uint32
	Reg           uint32
	DieClusterID  uint32
	DieID         uint32
	ClusterCoreID uint32
	ClusterType   string
}

// Platform is everything derived from the platform description that the
// PSCI core and its SoC topology need.
type Platform struct {
	CPUs     []CPUNode
	PMgrBase uint64
	PMgrSize uint64
}

// Parse decodes a platform-description blob and extracts CPU topology and
// the pmgr MMIO window.
func Parse(blob []byte) (Platform, error) {
	root, err := fdt.Parse(blob)
	if err != nil {
		return Platform{}, fmt.Errorf("adt: %w", err)
	}

	var plat Platform

	cpusNode := findChild(root, "cpus")
	if cpusNode == nil {
		return Platform{}, fmt.Errorf("adt: no /cpus node")
	}
	for _, child := range cpusNode.Children {
		if !strings.HasPrefix(child.Name, "cpu") {
			continue
		}
		cpu, err := decodeCPUNode(child)
		if err != nil {
			return Platform{}, fmt.Errorf("adt: cpu node %q: %w", child.Name, err)
		}
		plat.CPUs = append(plat.CPUs, cpu)
	}

	armIO := findChild(root, "arm-io")
	if armIO != nil {
		if pmgr := findChild(*armIO, "pmgr"); pmgr != nil {
			base, size, err := decodeReg(*pmgr)
			if err != nil {
				return Platform{}, fmt.Errorf("adt: /arm-io/pmgr: %w", err)
			}
			plat.PMgrBase, plat.PMgrSize = base, size
		}
	}

	return plat, nil
}

func findChild(n fdt.Node, name string) *fdt.Node {
	for i := range n.Children {
		if n.Children[i].Name == name || strings.HasPrefix(n.Children[i].Name, name+"@") {
			return &n.Children[i]
		}
	}
	return nil
}

func decodeCPUNode(n fdt.Node) (CPUNode, error) {
	cpu := CPUNode{Name: n.Name}

	u32 := func(prop string) (uint32, error) {
		p, ok := n.Properties[prop]
		if !ok {
			return 0, fmt.Errorf("missing property %q", prop)
		}
		if len(p.Bytes) < 4 {
			return 0, fmt.Errorf("property %q too short for u32", prop)
		}
		return binary.BigEndian.Uint32(p.Bytes[:4]), nil
	}

	var err error
	if cpu.CPUID, err = u32("cpu-id"); err != nil {
		return cpu, err
	}
	if cpu.Reg, err = u32("reg"); err != nil {
		return cpu, err
	}
	if cpu.DieClusterID, err = u32("die-cluster-id"); err != nil {
		return cpu, err
	}
	if cpu.DieID, err = u32("die-id"); err != nil {
		return cpu, err
	}
	if cpu.ClusterCoreID, err = u32("cluster-core-id"); err != nil {
		return cpu, err
	}

	if p, ok := n.Properties["cluster-type"]; ok {
		cpu.ClusterType = strings.TrimRight(string(p.Bytes), "\x00")
	}

	return cpu, nil
}

func decodeReg(n fdt.Node) (base, size uint64, err error) {
	p, ok := n.Properties["reg"]
	if !ok {
		return 0, 0, fmt.Errorf("missing reg property")
	}
	if len(p.Bytes) < 16 {
		return 0, 0, fmt.Errorf("reg property too short for <base size> pair")
	}
	base = binary.BigEndian.Uint64(p.Bytes[0:8])
	size = binary.BigEndian.Uint64(p.Bytes[8:16])
	return base, size, nil
}

// BuildTopology derives a soc.Topology from the decoded CPU list, grouping
// by (die-id, die-cluster-id) in the order clusters are first seen. This is
// the runtime counterpart to soc.Descriptors: when a real platform
// description is available it is authoritative, and the compile-time table
// becomes a fallback/test fixture.
func BuildTopology(id soc.Identifier, plat Platform) (soc.Topology, error) {
	if len(plat.CPUs) == 0 {
		return soc.Topology{}, fmt.Errorf("adt: no CPU nodes decoded")
	}

	type clusterKey struct {
		die     uint32
		cluster uint32
	}
	order := []clusterKey{}
	seen := map[clusterKey]int{}
	counts := []int{}
	types := []string{}
	maxDie := uint32(0)

	for _, cpu := range plat.CPUs {
		k := clusterKey{die: cpu.DieID, cluster: cpu.DieClusterID}
		if cpu.DieID > maxDie {
			maxDie = cpu.DieID
		}
		idx, ok := seen[k]
		if !ok {
			idx = len(order)
			seen[k] = idx
			order = append(order, k)
			counts = append(counts, 0)
			types = append(types, cpu.ClusterType)
		}
		counts[idx]++
	}

	childCounts := make([]int, 0, 2+len(counts))
	childCounts = append(childCounts, 1, len(counts))
	childCounts = append(childCounts, counts...)

	return soc.Topology{
		Identifier:         id,
		ChildCounts:        childCounts,
		CPUStartMMIOOffset: 0x20000,
		DieStride:          0x200000000,
		NumDies:            int(maxDie) + 1,
		ClusterTypes:       types,
	}, nil
}
