package main

import (
	"fmt"
	"os"

	"github.com/theoparis/m1n1/internal/soc"
	"gopkg.in/yaml.v3"
)

// ChipProfile is the on-disk description of which SoC to simulate and,
// optionally, where to find a real platform-description blob instead of
// using the compile-time topology table.
type ChipProfile struct {
	Chip     string `yaml:"chip"`
	ADTPath  string `yaml:"adt_path"`
	PMgrBase uint64 `yaml:"pmgr_base"`
	LogLevel string `yaml:"log_level"`
}

// LoadChipProfile reads and parses a chip-profile YAML file. An empty path
// returns a profile defaulting to the M1.
func LoadChipProfile(path string) (ChipProfile, error) {
	if path == "" {
		return ChipProfile{Chip: string(soc.M1), LogLevel: "info"}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ChipProfile{}, fmt.Errorf("psci-sim: read chip profile: %w", err)
	}

	var profile ChipProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return ChipProfile{}, fmt.Errorf("psci-sim: parse chip profile: %w", err)
	}
	if profile.Chip == "" {
		profile.Chip = string(soc.M1)
	}
	if profile.LogLevel == "" {
		profile.LogLevel = "info"
	}
	return profile, nil
}
