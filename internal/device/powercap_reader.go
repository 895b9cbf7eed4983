// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/prometheus/procfs/sysfs"
)

// socketPathPattern extracts the socket number out of a powercap zone path
// such as ".../intel-rapl:1" (package) or ".../intel-rapl:1:0" (dram
// subzone) -- the socket is always the first colon-separated integer.
var socketPathPattern = regexp.MustCompile(`intel-rapl:(\d+)`)

// PowercapReader discovers RAPL zones under the powercap sysfs hierarchy
// and groups them by socket and domain. It performs no wrap correction --
// that is RAPLReader's job (spec.md §4.1).
type PowercapReader struct {
	fs sysfs.FS
}

// NewPowercapReader opens the powercap sysfs tree rooted at sysfsPath
// (normally "/sys").
func NewPowercapReader(sysfsPath string) (*PowercapReader, error) {
	fs, err := sysfs.NewFS(sysfsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sysfs at %q: %w", sysfsPath, err)
	}
	return &PowercapReader{fs: fs}, nil
}

// socketOf parses the socket number out of a zone's sysfs path.
func socketOf(path string) (int, error) {
	m := socketPathPattern.FindStringSubmatch(path)
	if m == nil {
		return 0, fmt.Errorf("cannot determine socket from rapl path %q", path)
	}
	return strconv.Atoi(m[1])
}

// DiscoverZones enumerates every PACKAGE and DRAM zone available, indexed
// by socket. A socket with no DRAM subzone is simply absent from the dram
// map; callers (RAPLReader) must treat that as ErrZoneUnsupported.
func (p *PowercapReader) DiscoverZones() (pkg map[int]EnergyZone, dram map[int]EnergyZone, err error) {
	zones, err := sysfs.GetRaplZones(p.fs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rapl zones: %w", err)
	}

	pkg = map[int]EnergyZone{}
	dram = map[int]EnergyZone{}

	for _, z := range zones {
		socket, serr := socketOf(z.Path)
		if serr != nil {
			continue // not a standard per-socket zone, skip it
		}

		zone := z
		ez := sysfsZone{
			name:   strings.ToLower(zone.Name),
			socket: socket,
			path:   zone.Path,
			max:    Energy(zone.MaxMicrojoules),
			read: func() (Energy, error) {
				mj, err := zone.GetEnergyMicrojoules()
				return Energy(mj), err
			},
		}

		switch ez.name {
		case string(DomainPackage):
			pkg[socket] = ez
		case string(DomainDRAM):
			dram[socket] = ez
		}
	}

	if len(pkg) == 0 {
		return nil, nil, fmt.Errorf("no package rapl zones found under powercap")
	}

	return pkg, dram, nil
}

// SocketCount returns the number of sockets that have a package zone.
func (p *PowercapReader) SocketCount() (int, error) {
	pkg, _, err := p.DiscoverZones()
	if err != nil {
		return 0, err
	}
	return len(pkg), nil
}
