// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package baseline

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZero_SizedForSocketsAndOutOfRangeIsZero(t *testing.T) {
	b := Zero(2)
	assert.Len(t, b.CPU, 2)
	assert.Len(t, b.DRAM, 2)
	assert.Equal(t, 0.0, b.CPUWatts(0))
	assert.Equal(t, 0.0, b.DRAMWatts(1))

	// out of range, including negative, never panics
	assert.Equal(t, 0.0, b.CPUWatts(-1))
	assert.Equal(t, 0.0, b.CPUWatts(5))
	assert.Equal(t, 0.0, b.DRAMWatts(5))
}

func TestLoad_MissingFileYieldsZeroBaselineNotError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.json")

	b, err := Load(path, 2, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, Zero(2), b)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "baseline.json")

	want := Baseline{CPU: []float64{3.5, 4.25}, DRAM: []float64{0.8, 0}}
	require.NoError(t, Save(path, want))

	got, err := Load(path, 2, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 3.5, got.CPUWatts(0))
	assert.Equal(t, 4.25, got.CPUWatts(1))
	assert.Equal(t, 0.8, got.DRAMWatts(0))
}

func TestLoad_MalformedFileIsAnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "baseline.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := Load(path, 2, slog.Default())
	assert.Error(t, err)
}

func TestSave_OverwritesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "baseline.json")

	require.NoError(t, Save(path, Baseline{CPU: []float64{1}, DRAM: []float64{1}}))
	require.NoError(t, Save(path, Baseline{CPU: []float64{2}, DRAM: []float64{2}}))

	got, err := Load(path, 1, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.CPUWatts(0))
}
