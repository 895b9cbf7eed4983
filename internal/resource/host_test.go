// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HongyuHe/energat/internal/topology"
)

// writeFakeTopology mirrors internal/topology's own test fixture, since
// HostProbe needs a real *topology.Topology to attribute per-CPU jiffies
// to a socket.
func writeFakeTopology(t *testing.T, sysfsRoot string, cpuToSocket map[int]int) {
	t.Helper()
	for cpu, socket := range cpuToSocket {
		dir := filepath.Join(sysfsRoot, "devices", "system", "cpu",
			"cpu"+itoaLocal(cpu), "topology")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "physical_package_id"),
			[]byte(itoaLocal(socket)+"\n"), 0o644))
	}
}

func itoaLocal(i int) string {
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	return string(b)
}

// fakeProcStat writes a minimal, standards-shaped /proc/stat: four CPUs,
// each line carrying the full ten post-kernel-2.6.24 jiffie counters
// (user nice system idle iowait irq softirq steal guest guest_nice).
func fakeProcStat(t *testing.T, procfsRoot string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(procfsRoot, 0o755))
	content := "" +
		"cpu  160 0 320 0 0 0 0 0 0 0\n" +
		"cpu0 50 0 100 0 0 0 0 0 0 0\n" +
		"cpu1 50 0 100 0 0 0 0 0 0 0\n" +
		"cpu2 30 0 60 0 0 0 0 0 0 0\n" +
		"cpu3 30 0 60 0 0 0 0 0 0 0\n" +
		"intr 0\n" +
		"ctxt 0\n" +
		"btime 1700000000\n" +
		"processes 0\n" +
		"procs_running 0\n" +
		"procs_blocked 0\n" +
		"softirq 0\n"
	require.NoError(t, os.WriteFile(filepath.Join(procfsRoot, "stat"), []byte(content), 0o644))
}

func TestHostProbe_SnapshotAggregatesCPUTimeBySocket(t *testing.T) {
	sysfsRoot := t.TempDir()
	procfsRoot := t.TempDir()

	// cpu0,cpu1 -> socket 0; cpu2,cpu3 -> socket 1
	writeFakeTopology(t, sysfsRoot, map[int]int{0: 0, 1: 0, 2: 1, 3: 1})
	fakeProcStat(t, procfsRoot)
	writeFile(t, filepath.Join(sysfsRoot, "devices", "system", "node", "node0", "meminfo"), ""+
		"Node 0 MemTotal:       16384000 kB\n"+
		"Node 0 MemFree:         4096000 kB\n")
	writeFile(t, filepath.Join(sysfsRoot, "devices", "system", "node", "node1", "meminfo"), ""+
		"Node 1 MemTotal:        8192000 kB\n"+
		"Node 1 MemFree:         2048000 kB\n")

	topo, err := topology.Discover(sysfsRoot)
	require.NoError(t, err)

	probe, err := NewHostProbe(procfsRoot, sysfsRoot, topo)
	require.NoError(t, err)

	snap, err := probe.Snapshot()
	require.NoError(t, err)

	// each cpu line's (user+system)/100 sums to 1.5s on socket 0's cpus
	// and 0.9s on socket 1's cpus, per cpu, summed across the socket.
	assert.InDelta(t, 3.0, snap.CPUTimePerSocket[0], 1e-9)
	assert.InDelta(t, 1.8, snap.CPUTimePerSocket[1], 1e-9)

	assert.InDelta(t, (16384000.0-4096000.0)/1024.0, snap.NUMAMemPerNode[0], 1e-9)
	assert.InDelta(t, (8192000.0-2048000.0)/1024.0, snap.NUMAMemPerNode[1], 1e-9)
}

func TestNewHostProbe_InvalidProcfsPathIsAnError(t *testing.T) {
	sysfsRoot := t.TempDir()
	writeFakeTopology(t, sysfsRoot, map[int]int{0: 0})
	topo, err := topology.Discover(sysfsRoot)
	require.NoError(t, err)

	_, err = NewHostProbe("/this/path/does/not/exist", sysfsRoot, topo)
	assert.Error(t, err)
}
