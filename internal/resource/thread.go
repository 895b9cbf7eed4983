// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/procfs"

	"github.com/HongyuHe/energat/internal/topology"
)

// SocketUnknown marks a thread whose last-run CPU could not be resolved to
// a socket (transient thread, race with exit) -- spec.md §3, §9(b).
const SocketUnknown = -1

// ThreadRecord is spec.md §3's Thread Record.
type ThreadRecord struct {
	TID            int
	Socket         int // SocketUnknown if transient
	CPUTimeS       float64
	NUMAMemPerNode map[int]uint64 // bytes, this thread's own numa_maps read
}

// ThreadInventory is the Thread Inventory component (spec.md §4.3). It
// retains prevCPUTime across samples per spec.md §3's lifecycle rule, and
// evicts TIDs that are no longer observable.
type ThreadInventory struct {
	fs        procfs.FS
	procfsDir string
	topo      *topology.Topology
	logger    *slog.Logger

	prevCPUTime map[int]float64
}

// NewThreadInventory opens procfs at procfsPath for thread enumeration.
func NewThreadInventory(procfsPath string, topo *topology.Topology, logger *slog.Logger) (*ThreadInventory, error) {
	fs, err := procfs.NewFS(procfsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %q: %w", procfsPath, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ThreadInventory{
		fs:          fs,
		procfsDir:   procfsPath,
		topo:        topo,
		logger:      logger.With("component", "thread-inventory"),
		prevCPUTime: map[int]float64{},
	}, nil
}

// Inventory returns every currently observable thread of pid (spec.md
// §4.3). A TID whose read fails mid-inventory (raced exit) is dropped from
// this sample; its prior CPU-time baseline is retained in case it
// reappears, per spec.md §4.3 "Races".
func (ti *ThreadInventory) Inventory(pid int) ([]ThreadRecord, error) {
	proc, err := ti.fs.Proc(pid)
	if err != nil {
		return nil, fmt.Errorf("target process %d not found: %w", pid, err)
	}

	threads, err := proc.Threads()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate threads of %d: %w", pid, err)
	}

	seen := map[int]bool{}
	records := make([]ThreadRecord, 0, len(threads))

	for _, thr := range threads {
		tid := thr.PID
		seen[tid] = true // enumerated, so its baseline survives a failed read
		stat, err := thr.Stat()
		if err != nil {
			ti.logger.Debug("thread vanished mid-inventory, dropping from sample",
				"tid", tid, "error", err)
			continue
		}

		cpuTimeS := float64(stat.UTime+stat.STime) / userHZ
		socket := SocketUnknown
		if s, ok := ti.topo.SocketOf(stat.Processor); ok {
			socket = s
		}

		mem, merr := parseNUMAMaps(fmt.Sprintf("%s/%d/task/%d/numa_maps", ti.procfsDir, pid, tid))
		if merr != nil {
			mem = map[int]uint64{} // numa_maps is best-effort; absence isn't fatal
		}

		records = append(records, ThreadRecord{
			TID:            tid,
			Socket:         socket,
			CPUTimeS:       cpuTimeS,
			NUMAMemPerNode: mem,
		})
	}

	ti.evict(seen)

	return records, nil
}

// evict drops prevCPUTime entries for TIDs no longer observed, per spec.md
// §3 "thread state ... is destroyed when the TID is no longer observable".
func (ti *ThreadInventory) evict(seen map[int]bool) {
	for tid := range ti.prevCPUTime {
		if !seen[tid] {
			delete(ti.prevCPUTime, tid)
		}
	}
}

// CPUTimeDelta returns the CPU-time delta for tid since the last call,
// treating a first observation as zero (spec.md §4.4 "Threads appearing
// for the first time contribute nothing in their introducing sample").
func (ti *ThreadInventory) CPUTimeDelta(tid int, currentCPUTimeS float64) float64 {
	prev, known := ti.prevCPUTime[tid]
	ti.prevCPUTime[tid] = currentCPUTimeS
	if !known {
		return 0
	}
	delta := currentCPUTimeS - prev
	if delta < 0 {
		return 0
	}
	return delta
}
