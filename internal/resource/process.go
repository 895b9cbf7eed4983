// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import "fmt"

// ProcessNUMAReader reads the target process's own numa_maps exactly once
// per sample -- spec.md §4.4 Step 3 requires this be read from the process
// as a whole, not summed across its threads, since mappings are shared
// address space rather than per-thread.
type ProcessNUMAReader struct {
	procfsDir string
}

// NewProcessNUMAReader returns a reader rooted at procfsPath (normally
// "/proc").
func NewProcessNUMAReader(procfsPath string) *ProcessNUMAReader {
	return &ProcessNUMAReader{procfsDir: procfsPath}
}

// ResidencyBytes returns resident memory per NUMA node for pid, in bytes.
func (r *ProcessNUMAReader) ResidencyBytes(pid int) (map[int]uint64, error) {
	path := fmt.Sprintf("%s/%d/numa_maps", r.procfsDir, pid)
	mem, err := parseNUMAMaps(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read process numa residency for pid %d: %w", pid, err)
	}
	return mem, nil
}
