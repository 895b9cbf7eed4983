// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package baseline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"github.com/HongyuHe/energat/internal/device"
)

// DefaultQuietWindow is the default averaging window for --basepower
// calibration (spec.md §4.5 "2 seconds by default").
const DefaultQuietWindow = 2 * time.Second

// Calibrator runs the one-shot idle-power measurement behind --basepower.
type Calibrator struct {
	reader   *device.RAPLReader
	clock    clock.WithTicker
	logger   *slog.Logger
	pollStep time.Duration
}

// NewCalibrator builds a Calibrator over an already-initialized RAPL
// reader, polling it every pollStep for the duration of Run.
func NewCalibrator(reader *device.RAPLReader, pollStep time.Duration, logger *slog.Logger) *Calibrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calibrator{
		reader:   reader,
		clock:    clock.RealClock{},
		logger:   logger.With("component", "calibrator"),
		pollStep: pollStep,
	}
}

// Run samples RAPL accumulators at the start and end of window, polling at
// pollStep in between to keep accumulators current (matching the
// sampler's own steady-state RAPL polling), and returns the average power
// per socket per domain over the window.
func (c *Calibrator) Run(ctx context.Context, window time.Duration) (Baseline, error) {
	sockets := c.reader.Sockets()
	if len(sockets) == 0 {
		return Baseline{}, fmt.Errorf("no sockets available for calibration")
	}
	n := sockets[len(sockets)-1] + 1

	startCPU := make([]float64, n)
	startDRAM := make([]float64, n)
	dramOK := make([]bool, n)

	c.reader.Poll()
	for _, s := range sockets {
		v, err := c.reader.ReadDomain(s, device.DomainPackage)
		if err != nil {
			return Baseline{}, fmt.Errorf("failed to read package energy on socket %d: %w", s, err)
		}
		startCPU[s] = v

		if v, err := c.reader.ReadDomain(s, device.DomainDRAM); err == nil {
			startDRAM[s] = v
			dramOK[s] = true
		}
	}

	ticker := c.clock.NewTicker(c.pollStep)
	defer ticker.Stop()

	deadline := c.clock.Now().Add(window)
	for c.clock.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return Baseline{}, ctx.Err()
		case <-ticker.C():
			c.reader.Poll()
		}
	}

	b := Baseline{CPU: make([]float64, n), DRAM: make([]float64, n)}
	seconds := window.Seconds()

	for _, s := range sockets {
		end, err := c.reader.ReadDomain(s, device.DomainPackage)
		if err != nil {
			return Baseline{}, fmt.Errorf("failed to read package energy on socket %d: %w", s, err)
		}
		b.CPU[s] = (end - startCPU[s]) / seconds

		if !dramOK[s] {
			continue
		}
		if end, err := c.reader.ReadDomain(s, device.DomainDRAM); err == nil {
			b.DRAM[s] = (end - startDRAM[s]) / seconds
		}
	}

	c.logger.Info("calibration complete", "window", window, "sockets", len(sockets))
	return b, nil
}
