// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import "errors"

// Domain is a RAPL energy domain. energat only attributes the two domains
// spec.md names: the CPU package and its DRAM subdomain.
type Domain string

const (
	DomainPackage Domain = "package"
	DomainDRAM    Domain = "dram"
)

// ErrZoneUnsupported is returned by an EnergyZone whose files are missing
// (e.g. a socket with no DRAM subdomain). The sampler omits such a domain
// from the attribution input, so it never enters a share; the engine
// reports that domain's columns as NaN.
var ErrZoneUnsupported = errors.New("rapl zone unsupported")

// EnergyZone is a single RAPL counter file: one socket's PACKAGE or DRAM
// domain. Mirrors the teacher's device.EnergyZone, trimmed to what the
// attribution engine needs.
type EnergyZone interface {
	// Name returns the zone's domain name, e.g. "package" or "dram".
	Name() string
	// Socket is the physical package index this zone belongs to.
	Socket() int
	// Path is the sysfs file this zone reads from.
	Path() string
	// Energy returns the raw, monotonically-wrapping cumulative microjoule
	// counter. It does not perform wrap correction; that is RAPLReader's job.
	Energy() (Energy, error)
	// MaxEnergy returns the counter's wrap boundary.
	MaxEnergy() Energy
}

// sysfsZone adapts sysfs.RaplZone to EnergyZone.
type sysfsZone struct {
	name   string
	socket int
	path   string
	max    Energy
	read   func() (Energy, error)
}

func (z sysfsZone) Name() string          { return z.name }
func (z sysfsZone) Socket() int           { return z.socket }
func (z sysfsZone) Path() string          { return z.path }
func (z sysfsZone) MaxEnergy() Energy     { return z.max }
func (z sysfsZone) Energy() (Energy, error) { return z.read() }
