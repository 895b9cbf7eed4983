// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import "fmt"

// Energy is a RAPL counter reading, in microjoules -- the unit every
// powercap energy_uj file is expressed in (spec.md §4.1). zoneState
// accumulates and wrap-corrects in this unit before any conversion, so
// a socket's running total never loses precision to an intermediate
// float64 joule value.
type Energy uint64

const MicroJoule Energy = 1

// Joules converts to joules, the unit spec.md §4.4's attribution math
// and §6's trace columns are expressed in.
func (e Energy) Joules() float64 {
	return float64(e) / 1_000_000
}

// MilliJoules converts to millijoules.
func (e Energy) MilliJoules() float64 {
	return float64(e) / 1_000
}

// MicroJoules returns the raw counter value.
func (e Energy) MicroJoules() uint64 {
	return uint64(e)
}

func (e Energy) String() string {
	return fmt.Sprintf("%.2fJ", e.Joules())
}

// Power is a power draw in microwatts. internal/baseline's calibrator
// does not use this type: it computes idle power directly in watts
// (joules over seconds) for the baseline file.
type Power float64

const (
	MicroWatt Power = 1.0
	MilliWatt       = 1000 * MicroWatt
	Watt            = 1000 * MilliWatt
)

func (p Power) MicroWatts() float64 {
	return float64(p)
}

func (p Power) MilliWatts() float64 {
	return float64(p / MilliWatt)
}

func (p Power) Watts() float64 {
	return float64(p / Watt)
}

func (p Power) String() string {
	return fmt.Sprintf("%.2fW", p.Watts())
}
