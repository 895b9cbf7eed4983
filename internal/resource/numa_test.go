// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestParseNUMAMaps_SumsResidentPagesPerNode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "numa_maps")
	// two mappings touching node 0, two touching node 1; N<node>=<pages>
	writeFile(t, path, ""+
		"7f0000000000 default file=/lib/libc.so anon=3 dirty=3 N0=10 N1=2\n"+
		"7f0000100000 default anon=1 N0=5\n"+
		"7f0000200000 default anon=1 N1=8\n")

	got, err := parseNUMAMaps(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(15*numaPageSize), got[0])
	assert.Equal(t, uint64(10*numaPageSize), got[1])
}

func TestParseNUMAMaps_NoNodeFieldsYieldsEmptyMap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "numa_maps")
	writeFile(t, path, "7f0000000000 default file=/lib/libc.so anon=3 dirty=3\n")

	got, err := parseNUMAMaps(path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseNUMAMaps_MissingFileIsAnError(t *testing.T) {
	_, err := parseNUMAMaps(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}

func TestParseNodeMeminfo_PrefersMemUsedWhenPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meminfo")
	writeFile(t, path, ""+
		"Node 0 MemTotal:       16384000 kB\n"+
		"Node 0 MemFree:         2048000 kB\n"+
		"Node 0 MemUsed:        14336000 kB\n")

	kb, err := parseNodeMeminfo(path)
	require.NoError(t, err)
	assert.Equal(t, 14336000.0, kb)
}

func TestParseNodeMeminfo_FallsBackToTotalMinusFree(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meminfo")
	writeFile(t, path, ""+
		"Node 1 MemTotal:       8192000 kB\n"+
		"Node 1 MemFree:        1024000 kB\n")

	kb, err := parseNodeMeminfo(path)
	require.NoError(t, err)
	assert.Equal(t, 7168000.0, kb)
}

func TestMemPerNodeMB_DiscoversEveryNodeDir(t *testing.T) {
	sysfsRoot := t.TempDir()
	base := filepath.Join(sysfsRoot, "devices", "system", "node")
	writeFile(t, filepath.Join(base, "node0", "meminfo"), ""+
		"Node 0 MemTotal:       16384000 kB\n"+
		"Node 0 MemFree:         4096000 kB\n")
	writeFile(t, filepath.Join(base, "node1", "meminfo"), ""+
		"Node 1 MemTotal:        8192000 kB\n"+
		"Node 1 MemFree:         2048000 kB\n")
	// a non-node entry must be ignored rather than erroring the whole scan
	require.NoError(t, os.MkdirAll(filepath.Join(base, "power"), 0o755))

	reader := newHostNUMAReader(sysfsRoot)
	got, err := reader.MemPerNodeMB()
	require.NoError(t, err)

	assert.Equal(t, (16384000.0-4096000.0)/1024.0, got[0])
	assert.Equal(t, (8192000.0-2048000.0)/1024.0, got[1])
	assert.Len(t, got, 2)
}

func TestMemPerNodeMB_NoNodeDirIsAnError(t *testing.T) {
	sysfsRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(sysfsRoot, "devices", "system"), 0o755))

	reader := newHostNUMAReader(sysfsRoot)
	_, err := reader.MemPerNodeMB()
	assert.Error(t, err)
}
