package psci

import "fmt"

// AcquireLocks locks every non-CPU node from level 1 up to and including
// endLevel, in increasing level order, so all callers acquire in the same
// deterministic order and cannot deadlock. The target level's own node is
// locked too: Coordinate writes its state, and that write must be
// serialized against every other CPU that can reach the same node.
// Release must undo this in exact reverse order.
func (t *Tree) AcquireLocks(parents []int, endLevel int) {
	for lvl := LevelCluster; lvl <= endLevel; lvl++ {
		idx := parents[lvl-1]
		t.locks[t.NonCPU[idx].LockIndex].Lock()
	}
}

// ReleaseLocks unlocks what AcquireLocks locked, in exact reverse order.
func (t *Tree) ReleaseLocks(parents []int, endLevel int) {
	for lvl := endLevel; lvl >= LevelCluster; lvl-- {
		idx := parents[lvl-1]
		t.locks[t.NonCPU[idx].LockIndex].Unlock()
	}
}

// StateInfo is the per-level requested/target state threaded through
// Coordinate, indexed by level (state_info[0] is the CPU's own local state,
// state_info[level] for level 1..MaxLevel is that ancestor's coordinated
// target). Coordinate updates this value and the tree's lock-protected
// state: it writes the CPU's votes into the requested matrix in place while
// folding each level's minimum, then commits the ancestors' coordinated
// states. There is no separate read-only snapshot step.
type StateInfo [MaxLevel + 1]LocalState

// Coordinate computes the coordinated power state across the path from cpu
// up through endLevel, and commits the result to the tree. Callers must
// hold AcquireLocks(parents, endLevel) before calling.
func (t *Tree) Coordinate(cpuIdx int, parents []int, endLevel int, state *StateInfo) error {
	coordinatedToOn := false

	for level := LevelCluster; level <= endLevel; level++ {
		if coordinatedToOn {
			// Higher levels remain ON once any level below coordinates ON.
			// The vote at this skipped level must be forced ON too, or a
			// stale OFF request left over from before coordination began
			// would violate local_power_state == min(requested...) the next
			// time this level is coordinated directly.
			t.requested[level-1][cpuIdx] = StateOn
			state[level] = StateOn
			continue
		}

		nodeIdx := parents[level-1]
		node := &t.NonCPU[nodeIdx]

		t.requested[level-1][cpuIdx] = state[level]

		target, err := t.minRequested(level, node)
		if err != nil {
			return err
		}
		state[level] = target

		if target == StateOn {
			coordinatedToOn = true
		}
	}

	// Levels above the coordinated path never coordinate: force ON.
	for level := endLevel + 1; level <= MaxLevel; level++ {
		if level-1 >= 0 && level-1 < len(t.requested) {
			t.requested[level-1][cpuIdx] = StateOn
		}
		state[level] = StateOn
	}

	t.commit(cpuIdx, parents, endLevel, state)
	return nil
}

// minRequested computes target = min(requested[level-1][c] for c under
// node), using FirstCPUIndex/NumCPUSiblings to enumerate siblings
// without a child-pointer list.
func (t *Tree) minRequested(level int, node *NonCPUNode) (LocalState, error) {
	if node.NumCPUSiblings == 0 {
		return StateOff, fmt.Errorf("psci: internal failure: non-CPU node at level %d has no CPU siblings", level)
	}

	target := StateOff
	first := true
	row := t.requested[level-1]
	for c := node.FirstCPUIndex; c < node.FirstCPUIndex+node.NumCPUSiblings; c++ {
		if c < 0 || c >= len(row) {
			return StateOff, fmt.Errorf("psci: internal failure: sibling index %d out of range", c)
		}
		if first {
			target = row[c]
			first = false
			continue
		}
		target = minState(target, row[c])
	}
	return target, nil
}

// commit writes each coordinated ancestor's local_power_state, followed by
// cache clean+invalidate. Writing the CPU's own local_cpu_state
// (state_info[0]) is the caller's responsibility: Coordinate only owns
// non-CPU tree state.
func (t *Tree) commit(cpuIdx int, parents []int, endLevel int, state *StateInfo) {
	for level := LevelCluster; level <= endLevel; level++ {
		nodeIdx := parents[level-1]
		t.NonCPU[nodeIdx].setLocalPowerState(state[level])
	}
}
