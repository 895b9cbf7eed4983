// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package attribution implements the Attribution Engine of spec.md §4.4:
// turning a pair of host/RAPL/thread snapshots into per-socket energy
// attributed to one target process.
package attribution

import (
	"fmt"
	"math"

	"github.com/HongyuHe/energat/internal/baseline"
)

// epsilon guards against division by a host quantity of zero (spec.md
// §4.4 Step 2/3).
const epsilon = 1e-9

// ThreadCPUDelta is one target thread's CPU-time contribution for this
// interval, already resolved to the socket it ran on at time t and
// already reduced to zero for threads observed for the first time
// (spec.md §4.4 Step 2).
type ThreadCPUDelta struct {
	Socket  int
	DeltaS  float64
}

// Input bundles everything the engine needs to produce one row: two RAPL
// deltas, two host CPU-time deltas, the target's thread contributions,
// and NUMA residency, all already computed as deltas between t-1 and t by
// the caller (the sampling loop), per spec.md §4.4 "Inputs at step t".
type Input struct {
	DeltaT float64 // seconds, t - (t-1)

	Sockets []int

	HostCPUDeltaJ  map[int]float64 // E_host^cpu(s): acc_pkg(t) - acc_pkg(t-1)
	HostDRAMDeltaJ map[int]float64 // E_host^dram(s); absent key = unsupported on that socket

	HostCPUTimeDeltaS map[int]float64 // C_host(s)

	ThreadDeltas []ThreadCPUDelta // target's per-thread CPU deltas this interval

	// TargetNUMABytes is M_target(s): the target process's own resident
	// set per NUMA node, read once from the process (spec.md §4.4 Step 3).
	TargetNUMABytes map[int]float64
	// HostNUMABytes is M_host(s): total resident memory on node s.
	HostNUMABytes map[int]float64
	// ThreadPresentOnSocket records whether any target thread ran on
	// socket s during this interval; gates DRAM share to zero otherwise.
	ThreadPresentOnSocket map[int]bool

	Baseline baseline.Baseline

	Gamma float64 // CPU non-linear correction exponent, default 0.3
	Delta float64 // DRAM non-linear correction exponent, default 0.2
}

// SocketResult is one socket's row of spec.md §6's output columns.
type SocketResult struct {
	Socket int

	HostCPUJ   float64
	HostDRAMJ  float64 // NaN if DRAM unsupported on this socket
	TargetCPUJ float64
	TargetDRAMJ float64 // NaN if DRAM unsupported on this socket

	CPUShare  float64
	DRAMShare float64 // NaN if DRAM unsupported on this socket

	NThreads int

	// ClampNote records a ShareOverflow clamp event (spec.md §7), empty
	// otherwise.
	ClampNote string
}

// ErrClockAnomaly is returned when DeltaT <= 0 (spec.md §7 ClockAnomaly):
// the caller must skip the sample and log a warning, not emit a row.
var ErrClockAnomaly = fmt.Errorf("attribution: non-positive interval, clock anomaly")

// Attribute runs one full pass of spec.md §4.4 Steps 1-5 and returns one
// result per socket named in in.Sockets.
func Attribute(in Input) ([]SocketResult, error) {
	if in.DeltaT <= 0 {
		return nil, ErrClockAnomaly
	}

	threadCPUBySocket := map[int]float64{}
	threadCountBySocket := map[int]int{}
	for _, td := range in.ThreadDeltas {
		threadCPUBySocket[td.Socket] += td.DeltaS
		threadCountBySocket[td.Socket]++
	}

	gamma := in.Gamma
	if gamma <= 0 {
		gamma = 0.3
	}
	delta := in.Delta
	if delta <= 0 {
		delta = 0.2
	}

	results := make([]SocketResult, 0, len(in.Sockets))
	for _, s := range in.Sockets {
		r := SocketResult{Socket: s, NThreads: threadCountBySocket[s]}

		// Step 1: raw RAPL deltas and baseline subtraction.
		r.HostCPUJ = in.HostCPUDeltaJ[s]
		eBaseCPU := in.Baseline.CPUWatts(s) * in.DeltaT
		eActiveCPU := math.Max(0, r.HostCPUJ-eBaseCPU)

		dramSupported := false
		if v, ok := in.HostDRAMDeltaJ[s]; ok {
			dramSupported = true
			r.HostDRAMJ = v
		} else {
			r.HostDRAMJ = math.NaN()
		}

		var eActiveDRAM float64
		if dramSupported {
			eBaseDRAM := in.Baseline.DRAMWatts(s) * in.DeltaT
			eActiveDRAM = math.Max(0, r.HostDRAMJ-eBaseDRAM)
		}

		// Step 2: CPU share.
		cHost := in.HostCPUTimeDeltaS[s]
		cTarget := threadCPUBySocket[s]

		var fCPU float64
		clampNote := ""
		switch {
		case cHost <= epsilon && cTarget > epsilon:
			// impossible except via clock skew (spec.md §4.4 edge cases)
			fCPU = 1
			clampNote = "ShareOverflow: C_host<=0 with C_target>0, clamped to 1"
		default:
			fCPU = clamp(cTarget/math.Max(cHost, epsilon), 0, 1)
			if cTarget/math.Max(cHost, epsilon) > 1 {
				clampNote = "ShareOverflow: raw CPU fraction exceeded 1, clamped"
			}
		}

		// Step 3: DRAM share, process-level dedup, thread-presence gate.
		var fDRAM float64
		if dramSupported {
			if in.ThreadPresentOnSocket[s] {
				mHost := in.HostNUMABytes[s]
				mTarget := in.TargetNUMABytes[s]
				fDRAM = clamp(mTarget/math.Max(mHost, epsilon), 0, 1)
			} else {
				fDRAM = 0
			}
		}

		// Step 4: non-linear scaling.
		shareCPU := powerLawShare(fCPU, gamma)
		shareDRAM := powerLawShare(fDRAM, delta)

		// Step 5: energy attribution.
		r.CPUShare = shareCPU
		r.TargetCPUJ = shareCPU * eActiveCPU

		if dramSupported {
			r.DRAMShare = shareDRAM
			r.TargetDRAMJ = shareDRAM * eActiveDRAM
		} else {
			r.DRAMShare = math.NaN()
			r.TargetDRAMJ = math.NaN()
		}

		r.ClampNote = clampNote
		results = append(results, r)
	}

	return results, nil
}

// powerLawShare applies share = f^exp while preserving share(0)=0 and
// share(1)=1 exactly (spec.md §4.4 Step 4).
func powerLawShare(f, exp float64) float64 {
	if f <= 0 {
		return 0
	}
	if f >= 1 {
		return 1
	}
	return math.Pow(f, exp)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
