// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"log/slog"
	"sync"
)

// zoneState tracks wrap correction for a single (socket, domain) counter,
// following spec.md §4.1: accumulated += delta, where delta handles wrap.
type zoneState struct {
	zone         EnergyZone
	maxRange     Energy
	lastReading  Energy
	accumulated  Energy
	initialized  bool
	unsupported  bool
}

// RAPLReader is the RAPL Reader component (spec.md §4.1). It exposes
// ReadDomain(socket, domain) -> joules, wrap-corrected since the reader was
// created. A domain with no backing zone (most commonly DRAM on a socket
// that doesn't expose one) is reported as unsupported; ReadDomain returns
// ErrZoneUnsupported, the sampler leaves that domain out of the engine's
// input, and the engine reports its columns as NaN.
type RAPLReader struct {
	logger *slog.Logger

	mu      sync.Mutex
	sockets []int
	state   map[int]map[Domain]*zoneState
}

// NewRAPLReader discovers zones via reader and builds wrap-correction state
// for every socket/domain pair. PACKAGE must be present on every discovered
// socket; DRAM is optional per socket (spec.md §4.1, §6).
func NewRAPLReader(reader *PowercapReader, logger *slog.Logger) (*RAPLReader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pkgZones, dramZones, err := reader.DiscoverZones()
	if err != nil {
		return nil, err
	}

	r := &RAPLReader{
		logger: logger.With("component", "rapl-reader"),
		state:  map[int]map[Domain]*zoneState{},
	}

	for socket, zone := range pkgZones {
		r.sockets = append(r.sockets, socket)
		r.state[socket] = map[Domain]*zoneState{
			DomainPackage: {zone: zone, maxRange: zone.MaxEnergy()},
		}
	}

	for socket, zone := range dramZones {
		if _, ok := r.state[socket]; !ok {
			r.state[socket] = map[Domain]*zoneState{}
		}
		r.state[socket][DomainDRAM] = &zoneState{zone: zone, maxRange: zone.MaxEnergy()}
	}

	// mark sockets lacking a DRAM zone as unsupported, never as a silent zero read
	for _, socket := range r.sockets {
		if _, ok := r.state[socket][DomainDRAM]; !ok {
			r.state[socket][DomainDRAM] = &zoneState{unsupported: true}
		}
	}

	if len(r.sockets) == 0 {
		return nil, fmt.Errorf("no rapl package zones discovered")
	}

	return r, nil
}

// Sockets returns the discovered socket indices, sorted ascending.
func (r *RAPLReader) Sockets() []int {
	out := make([]int, len(r.sockets))
	copy(out, r.sockets)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Poll reads every socket/domain counter once, advancing the wrap-corrected
// accumulators. It is meant to be called at the high-rate rapl_period_s
// cadence (spec.md §4.6) so accumulated_j never misses a wrap on a long
// attribution interval. Errors on individual zones are logged and absorbed:
// the previous accumulated value is kept, matching spec.md §4.1's
// "TransientReadError" policy.
func (r *RAPLReader) Poll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for socket, domains := range r.state {
		for domain, st := range domains {
			if st.unsupported {
				continue
			}
			raw, err := st.zone.Energy()
			if err != nil {
				r.logger.Warn("rapl read failed, keeping prior accumulator",
					"socket", socket, "domain", domain, "error", err)
				continue
			}
			r.advance(st, raw)
		}
	}
}

// advance applies one wrap-corrected delta (spec.md §4.1).
func (r *RAPLReader) advance(st *zoneState, raw Energy) {
	if !st.initialized {
		st.lastReading = raw
		st.accumulated = raw
		st.initialized = true
		return
	}

	var delta Energy
	if raw >= st.lastReading {
		delta = raw - st.lastReading
	} else {
		delta = (st.maxRange - st.lastReading) + raw
	}
	st.accumulated += delta
	st.lastReading = raw
}

// ReadDomain returns the wrap-corrected cumulative joules for socket/domain
// since the reader started. Returns ErrZoneUnsupported if the domain has no
// backing zone on that socket.
func (r *RAPLReader) ReadDomain(socket int, domain Domain) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	domains, ok := r.state[socket]
	if !ok {
		return 0, fmt.Errorf("unknown socket %d", socket)
	}
	st, ok := domains[domain]
	if !ok || st.unsupported {
		return 0, ErrZoneUnsupported
	}

	if !st.initialized {
		raw, err := st.zone.Energy()
		if err != nil {
			return 0, fmt.Errorf("initial rapl read failed: %w", err)
		}
		r.advance(st, raw)
	}

	return st.accumulated.Joules(), nil
}
