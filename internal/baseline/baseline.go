// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package baseline implements the Baseline Subtractor and one-shot
// calibration of spec.md §4.5: a per-socket, per-domain idle-power
// baseline (watts) measured once over a quiet window and subtracted from
// every later RAPL delta before attribution.
package baseline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// Baseline holds idle power in watts per socket, indexed by socket number.
// This is the JSON shape of spec.md §6's baseline file:
// {"cpu": [...], "dram": [...]}.
type Baseline struct {
	CPU  []float64 `json:"cpu"`
	DRAM []float64 `json:"dram"`
}

// Zero returns an all-zero baseline sized for nSockets, used when no
// baseline file is present (spec.md §4.5 "baseline is zero").
func Zero(nSockets int) Baseline {
	return Baseline{CPU: make([]float64, nSockets), DRAM: make([]float64, nSockets)}
}

// CPUWatts returns the CPU idle power for socket s, or 0 if out of range.
func (b Baseline) CPUWatts(socket int) float64 {
	if socket < 0 || socket >= len(b.CPU) {
		return 0
	}
	return b.CPU[socket]
}

// DRAMWatts returns the DRAM idle power for socket s, or 0 if out of range.
func (b Baseline) DRAMWatts(socket int) float64 {
	if socket < 0 || socket >= len(b.DRAM) {
		return 0
	}
	return b.DRAM[socket]
}

// Load reads a baseline file written by a prior --basepower run. A missing
// file is not an error: it yields a zero baseline and logs a warning, per
// spec.md §4.5.
func Load(path string, nSockets int, logger *slog.Logger) (Baseline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Warn("baseline file not found, using zero baseline", "path", path)
		return Zero(nSockets), nil
	}
	if err != nil {
		return Baseline{}, fmt.Errorf("failed to read baseline file %q: %w", path, err)
	}

	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return Baseline{}, fmt.Errorf("failed to parse baseline file %q: %w", path, err)
	}
	return b, nil
}

// Save writes a baseline file, overwriting any existing one.
func Save(path string, b Baseline) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode baseline: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write baseline file %q: %w", path, err)
	}
	return nil
}
