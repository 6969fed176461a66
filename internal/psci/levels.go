package psci

// Power levels: 0 is a CPU, 1 a cluster, 2 the system.
const (
	LevelCPU     = 0
	LevelCluster = 1
	LevelSystem  = 2

	MaxLevel     = LevelSystem
	InvalidLevel = 3
)

// LocalState is the small unsigned value attached to every node in the
// power-domain tree. Ordering matters: ON < IDLE_STANDBY < OFF, so the
// coordinated state of a non-CPU node is the numeric minimum of its
// children's requested states.
type LocalState uint8

const (
	StateOn          LocalState = 0
	StateIdleStandby LocalState = 1
	StateOff         LocalState = 2
)

func (s LocalState) String() string {
	switch s {
	case StateOn:
		return "ON"
	case StateIdleStandby:
		return "IDLE_STANDBY"
	case StateOff:
		return "OFF"
	default:
		return "INVALID"
	}
}

// minState returns the numerically shallower (lower) of two local states:
// a parent stays in its shallowest child's state.
func minState(a, b LocalState) LocalState {
	if a < b {
		return a
	}
	return b
}

// AffinityState is the PSCI-visible power state of one CPU, returned by
// AFFINITY_INFO and mutated by cpu_on/cpu_off.
type AffinityState uint32

const (
	AffinityOn AffinityState = iota
	AffinityOff
	AffinityOnPending
)

func (s AffinityState) String() string {
	switch s {
	case AffinityOn:
		return "ON"
	case AffinityOff:
		return "OFF"
	case AffinityOnPending:
		return "ON_PENDING"
	default:
		return "INVALID"
	}
}
