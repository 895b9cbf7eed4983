// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package topology discovers the CPU-to-socket mapping once at startup, the
// way the teacher's old pkg/collector/metric/utils.go getCPUPackageMap()
// does, but against an injectable sysfs root for testability.
package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var cpuDirPattern = regexp.MustCompile(`^cpu(\d+)$`)

// Topology maps CPU numbers to the socket (physical package) they belong
// to, and lists the sockets present on the host.
type Topology struct {
	cpuToSocket map[int]int
	sockets     []int
}

// Discover reads /sys/devices/system/cpu/cpu*/topology/physical_package_id
// under sysfsRoot (normally "/sys") and builds the CPU->socket map.
func Discover(sysfsRoot string) (*Topology, error) {
	cpuDir := filepath.Join(sysfsRoot, "devices", "system", "cpu")
	entries, err := os.ReadDir(cpuDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read cpu topology dir %q: %w", cpuDir, err)
	}

	t := &Topology{cpuToSocket: map[int]int{}}
	socketSet := map[int]bool{}

	for _, entry := range entries {
		m := cpuDirPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		cpu, _ := strconv.Atoi(m[1])

		pkgIDPath := filepath.Join(cpuDir, entry.Name(), "topology", "physical_package_id")
		raw, err := os.ReadFile(pkgIDPath)
		if err != nil {
			// some offline/virtual cpu entries lack a topology dir; skip them
			continue
		}
		socket, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		if err != nil {
			continue
		}

		t.cpuToSocket[cpu] = socket
		socketSet[socket] = true
	}

	if len(t.cpuToSocket) == 0 {
		return nil, fmt.Errorf("no CPU topology entries found under %q", cpuDir)
	}

	for s := range socketSet {
		t.sockets = append(t.sockets, s)
	}
	sort.Ints(t.sockets)

	return t, nil
}

// Sockets returns every socket discovered, ascending.
func (t *Topology) Sockets() []int {
	out := make([]int, len(t.sockets))
	copy(out, t.sockets)
	return out
}

// SocketOf returns the socket a CPU belongs to, or false if unknown.
func (t *Topology) SocketOf(cpu int) (int, bool) {
	s, ok := t.cpuToSocket[cpu]
	return s, ok
}

// SocketCount returns the number of distinct sockets.
func (t *Topology) SocketCount() int {
	return len(t.sockets)
}
