// Command psci-sim boots a simulated Apple-silicon power-domain tree and
// drives it through the PSCI SMC calls a real EL1 guest would issue at
// startup: probe PSCI_VERSION and FEATURES, bring up every secondary core
// with CPU_ON, and park each one in CPU_SUSPEND until woken.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/theoparis/m1n1/internal/adt"
	"github.com/theoparis/m1n1/internal/psci"
	"github.com/theoparis/m1n1/internal/soc"
	"github.com/theoparis/m1n1/internal/trap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a chip-profile YAML file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("psci-sim failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	profile, err := LoadChipProfile(configPath)
	if err != nil {
		return err
	}

	level := parseLogLevel(profile.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	topo, err := resolveTopology(profile, logger)
	if err != nil {
		return err
	}

	tree, err := psci.Build(topo)
	if err != nil {
		return fmt.Errorf("psci-sim: build power-domain tree: %w", err)
	}

	core := psci.NewContext(tree, logger)
	if profile.PMgrBase != 0 {
		core.SetPMgrBase(profile.PMgrBase)
	}
	core.OnSystemOff = func() { logger.Info("platform: would power off now") }
	core.OnSystemReset = func() { logger.Info("platform: would reset now") }

	logger.Info("booted power-domain tree",
		"chip", topo.Identifier, "cpus", len(tree.CPUs), "clusters", topo.NumClusters(), "dies", topo.NumDies)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	probeBootFeatures(ctx, core, logger)

	return bootSecondaryCores(ctx, core)
}

func parseLogLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// resolveTopology prefers a real platform-description blob when the chip
// profile names one; otherwise it falls back to the compile-time topology
// table, which is what soc.Descriptors exists for.
func resolveTopology(profile ChipProfile, logger *slog.Logger) (soc.Topology, error) {
	id := soc.Identifier(profile.Chip)

	if profile.ADTPath == "" {
		return soc.Lookup(id)
	}

	blob, err := os.ReadFile(profile.ADTPath)
	if err != nil {
		return soc.Topology{}, fmt.Errorf("psci-sim: read platform description: %w", err)
	}

	plat, err := adt.Parse(blob)
	if err != nil {
		return soc.Topology{}, fmt.Errorf("psci-sim: parse platform description: %w", err)
	}

	topo, err := adt.BuildTopology(id, plat)
	if err != nil {
		return soc.Topology{}, fmt.Errorf("psci-sim: derive topology from platform description: %w", err)
	}

	logger.Info("derived topology from platform description", "path", profile.ADTPath, "pmgr_base", plat.PMgrBase)
	return topo, nil
}

// probeBootFeatures issues the handful of discovery calls a real guest
// makes during PSCI init, on behalf of the boot CPU (logical index 0).
func probeBootFeatures(ctx context.Context, core *psci.Context, logger *slog.Logger) {
	smcESR := uint64(trap.ECSMC64) << 26

	frame := &trap.Frame{ESR: smcESR, X0: 0x84000000}
	trap.Handle(ctx, core, 0, frame)
	logger.Info("psci_version", "value", fmt.Sprintf("0x%x", frame.X0))

	for _, fid := range []uint32{0x84000001, 0x84000002, 0x84000003, 0x84000006} {
		frame := &trap.Frame{ESR: smcESR, X0: 0x8400000A, X1: uint64(fid)}
		trap.Handle(ctx, core, 0, frame)
		status := psci.Status(int32(uint32(frame.X0)))
		logger.Info("features probe", "fid", fmt.Sprintf("0x%x", fid), "status", status.String())
	}
}

// bootSecondaryCores brings up every non-boot CPU with CPU_ON, fanning the
// wait for each core's acknowledgement out across goroutines.
func bootSecondaryCores(ctx context.Context, core *psci.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for idx := 1; idx < core.Registry.Len(); idx++ {
		idx := idx
		g.Go(func() error {
			return bootOneCore(gctx, core, idx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func bootOneCore(ctx context.Context, core *psci.Context, idx int) error {
	if _, ok := core.Registry.Get(idx); !ok {
		return fmt.Errorf("psci-sim: no such cpu %d", idx)
	}

	mpidr := core.Tree.CPUs[idx].MPIDR
	entry := uint64(0x80000000 + idx*0x1000)

	frame := &trap.Frame{ESR: uint64(trap.ECSMC64) << 26, X0: 0x84000003, X1: mpidr, X2: entry, X3: uint64(idx)}
	if handled := trap.Handle(ctx, core, 0, frame); !handled {
		return fmt.Errorf("psci-sim: cpu_on for cpu %d not handled", idx)
	}
	if status := psci.Status(int32(uint32(frame.X0))); status != psci.Success {
		return fmt.Errorf("psci-sim: cpu_on for cpu %d returned %s", idx, status)
	}

	coreCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	// power_state = 0x1: level-0 (CPU) field set to IDLE_STANDBY, power-down
	// bit clear, a standby request, the only kind the fast path in
	// CPUSuspend accepts without entry-point arguments.
	core.CPUSuspend(coreCtx, idx, 0x1, 0, 0)

	return nil
}
