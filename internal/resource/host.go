// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package resource implements the System Probe and Thread Inventory
// components of spec.md §4.2/§4.3: host-wide per-socket CPU time, per-node
// NUMA memory, and per-thread CPU time + residency for a target process.
package resource

import (
	"fmt"

	"github.com/prometheus/procfs"

	"github.com/HongyuHe/energat/internal/topology"
)

const userHZ = 100 // clock ticks per second; hardcoded as procfs itself does

// HostSnapshot is the Host Snapshot of spec.md §3, taken at one sample
// boundary.
type HostSnapshot struct {
	CPUTimePerSocket map[int]float64 // seconds, non-idle, aggregate across socket's cores
	NUMAMemPerNode   map[int]float64 // MB, resident
}

// HostProbe is the System Probe component (spec.md §4.2).
type HostProbe struct {
	fs   procfs.FS
	topo *topology.Topology
	numa *hostNUMAReader
}

// NewHostProbe opens procfs at procfsPath and uses topo to aggregate
// per-CPU jiffies into per-socket totals.
func NewHostProbe(procfsPath, sysfsPath string, topo *topology.Topology) (*HostProbe, error) {
	fs, err := procfs.NewFS(procfsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %q: %w", procfsPath, err)
	}
	return &HostProbe{fs: fs, topo: topo, numa: newHostNUMAReader(sysfsPath)}, nil
}

// Snapshot reads current host-wide CPU time per socket and NUMA memory per
// node (spec.md §4.2).
func (p *HostProbe) Snapshot() (HostSnapshot, error) {
	stat, err := p.fs.Stat()
	if err != nil {
		return HostSnapshot{}, fmt.Errorf("failed to read /proc/stat: %w", err)
	}

	cpuTime := map[int]float64{}
	for _, socket := range p.topo.Sockets() {
		cpuTime[socket] = 0
	}

	for cpuNum, cstat := range stat.CPU {
		socket, ok := p.topo.SocketOf(int(cpuNum))
		if !ok {
			continue
		}
		// procfs.CPUStat fields are already expressed in seconds (the
		// library divides raw jiffies by the clock tick rate itself)
		nonIdle := cstat.User + cstat.Nice + cstat.System +
			cstat.IRQ + cstat.SoftIRQ + cstat.Steal
		cpuTime[socket] += nonIdle
	}

	mem, err := p.numa.MemPerNodeMB()
	if err != nil {
		return HostSnapshot{}, fmt.Errorf("failed to read numa memory: %w", err)
	}

	return HostSnapshot{CPUTimePerSocket: cpuTime, NUMAMemPerNode: mem}, nil
}
