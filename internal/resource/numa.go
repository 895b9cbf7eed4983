// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// No library in this corpus parses /proc/<pid>/numa_maps or
// /sys/devices/system/node/nodeN/meminfo -- both are small, host-specific
// text formats with no general-purpose Go parser in the pack (procfs itself
// stops at /proc/stat and /proc/<pid>/stat). A bufio.Scanner in the style
// procfs's own internal line parsers use is the right tool here.

var nodeFieldPattern = regexp.MustCompile(`\bN(\d+)=(\d+)\b`)

const numaPageSize = 4096 // bytes; standard x86_64 base page size

// parseNUMAMaps sums the resident page counts ("N<node>=<pages>" tokens)
// across every mapping line of a numa_maps file, returning bytes per node.
// This is shared by process-level and thread-level numa_maps reads (spec
// §4.2 "Thread Inventory" and §4.3 process NUMA residency).
func parseNUMAMaps(path string) (map[int]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	residency := map[int]uint64{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		for _, m := range nodeFieldPattern.FindAllStringSubmatch(line, -1) {
			node, _ := strconv.Atoi(m[1])
			pages, _ := strconv.ParseUint(m[2], 10, 64)
			residency[node] += pages * numaPageSize
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", path, err)
	}
	return residency, nil
}

// hostNUMAReader reads per-node memory totals from sysfs.
type hostNUMAReader struct {
	sysfsRoot string
}

func newHostNUMAReader(sysfsRoot string) *hostNUMAReader {
	return &hostNUMAReader{sysfsRoot: sysfsRoot}
}

// MemPerNodeMB returns, for every discoverable NUMA node, the resident (in
// use) memory in MB: MemTotal - MemFree, or the kernel's own "MemUsed"
// field when present.
func (h *hostNUMAReader) MemPerNodeMB() (map[int]float64, error) {
	base := h.sysfsRoot + "/devices/system/node"
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("failed to read numa node dir %q: %w", base, err)
	}

	nodePattern := regexp.MustCompile(`^node(\d+)$`)
	result := map[int]float64{}

	for _, e := range entries {
		m := nodePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		node, _ := strconv.Atoi(m[1])

		kb, err := parseNodeMeminfo(base + "/" + e.Name() + "/meminfo")
		if err != nil {
			continue // unreadable node, skip rather than fail the whole snapshot
		}
		result[node] = kb / 1024.0
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("no NUMA nodes found under %q", base)
	}
	return result, nil
}

// parseNodeMeminfo returns used memory in KB for one node's meminfo file.
func parseNodeMeminfo(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var total, free float64
	var used float64
	haveUsed := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		// format: "Node 0 MemTotal:       16384000 kB"
		if len(fields) < 4 {
			continue
		}
		key := strings.TrimSuffix(fields[2], ":")
		val, perr := strconv.ParseFloat(fields[3], 64)
		if perr != nil {
			continue
		}
		switch key {
		case "MemTotal":
			total = val
		case "MemFree":
			free = val
		case "MemUsed":
			used = val
			haveUsed = true
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}

	if haveUsed {
		return used, nil
	}
	return total - free, nil
}
