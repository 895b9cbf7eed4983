// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package sampler implements the Sampling Loop of spec.md §4.6: the
// state machine that, over topology its caller discovered, polls RAPL at a high rate,
// attributes energy at a coarser rate, and flushes a durable trace on
// every exit path.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/HongyuHe/energat/internal/attribution"
	"github.com/HongyuHe/energat/internal/baseline"
	"github.com/HongyuHe/energat/internal/device"
	"github.com/HongyuHe/energat/internal/resource"
	"github.com/HongyuHe/energat/internal/service"
	"github.com/HongyuHe/energat/internal/topology"
	"github.com/HongyuHe/energat/internal/trace"
)

// State is one state of spec.md §4.6's state machine.
type State int32

const (
	StateInit State = iota
	StateCalibrated
	StateRunning
	StateFlushing
	StateAborting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateCalibrated:
		return "CALIBRATED"
	case StateRunning:
		return "RUNNING"
	case StateFlushing:
		return "FLUSHING"
	case StateAborting:
		return "ABORTING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// ErrTargetGone is returned (wrapped) when the target PID is no longer
// observable -- spec.md §7 TargetGone.
var ErrTargetGone = fmt.Errorf("sampler: target process no longer exists")

// Config configures one sampling run (spec.md §6).
type Config struct {
	PID         int
	IntervalS   time.Duration
	RAPLPeriodS time.Duration
	Gamma       float64
	Delta       float64
	ProcfsPath  string
}

// Sampler is the spec.md §4.6 Sampling Loop, implementing
// service.Initializer/Runner/Shutdowner so it can be driven by the
// teacher-style oklog/run group alongside the signal handler.
type Sampler struct {
	cfg    Config
	logger *slog.Logger
	clock  clock.WithTicker

	rapl      *device.RAPLReader
	hostProbe *resource.HostProbe
	threads   *resource.ThreadInventory
	procNUMA  *resource.ProcessNUMAReader
	topo      *topology.Topology
	base      baseline.Baseline
	sink      *trace.Sink

	state atomic.Int32

	livenessGroup singleflight.Group

	raplStop chan struct{}
	raplDone chan struct{}

	mu           sync.Mutex
	prevHost     resource.HostSnapshot
	prevTime     time.Time
	haveInit     bool
	prevRAPLCPU  map[int]float64
	prevRAPLDRAM map[int]float64
}

var (
	_ service.Initializer = (*Sampler)(nil)
	_ service.Runner      = (*Sampler)(nil)
	_ service.Shutdowner  = (*Sampler)(nil)
)

// New builds a Sampler over already-discovered infrastructure.
func New(
	cfg Config,
	rapl *device.RAPLReader,
	hostProbe *resource.HostProbe,
	threads *resource.ThreadInventory,
	procNUMA *resource.ProcessNUMAReader,
	topo *topology.Topology,
	base baseline.Baseline,
	sink *trace.Sink,
	logger *slog.Logger,
) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sampler{
		cfg:       cfg,
		logger:    logger.With("component", "sampler"),
		clock:     clock.RealClock{},
		rapl:      rapl,
		hostProbe: hostProbe,
		threads:   threads,
		procNUMA:  procNUMA,
		topo:      topo,
		base:      base,
		sink:      sink,
	}
	s.state.Store(int32(StateInit))
	return s
}

// Name implements service.Service.
func (s *Sampler) Name() string { return "sampler" }

// State returns the current state, safe for concurrent use.
func (s *Sampler) State() State { return State(s.state.Load()) }

func (s *Sampler) setState(st State) { s.state.Store(int32(st)) }

// Init discovers the first host snapshot (CALIBRATED, per spec.md §4.6:
// "first snapshot taken; no output yet").
func (s *Sampler) Init() error {
	if !s.Alive() {
		return fmt.Errorf("%w: pid %d", ErrTargetGone, s.cfg.PID)
	}

	snap, err := s.hostProbe.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to take initial host snapshot: %w", err)
	}
	s.rapl.Poll()
	s.saveRAPLTotals(s.topo.Sockets())

	s.mu.Lock()
	s.prevHost = snap
	s.prevTime = s.clock.Now()
	s.haveInit = true
	s.mu.Unlock()

	s.raplStop = make(chan struct{})
	s.raplDone = make(chan struct{})

	s.setState(StateCalibrated)
	return nil
}

// Alive reports whether the target PID is still observable, collapsing
// concurrent callers into a single procfs read, matching the teacher's
// PowerMonitor.ensureFreshData singleflight pattern.
func (s *Sampler) Alive() bool {
	v, _, _ := s.livenessGroup.Do("liveness", func() (any, error) {
		_, err := os.Stat(fmt.Sprintf("%s/%d", procfsPathOrDefault(s.cfg.ProcfsPath), s.cfg.PID))
		return err == nil, nil
	})
	alive, _ := v.(bool)
	return alive
}

func procfsPathOrDefault(p string) string {
	if p == "" {
		return "/proc"
	}
	return p
}

// Run executes spec.md §4.6's RUNNING state: a dedicated RAPL-polling
// goroutine (spec §5 "a small dedicated thread MAY be used") plus the
// attribution loop ticking every IntervalS, until ctx is cancelled
// (signal) or the target disappears.
func (s *Sampler) Run(ctx context.Context) error {
	s.setState(StateRunning)

	raplPeriod := s.cfg.RAPLPeriodS
	if raplPeriod <= 0 {
		raplPeriod = 10 * time.Millisecond
	}
	intervalS := s.cfg.IntervalS
	if intervalS <= 0 {
		intervalS = time.Second
	}

	go s.pollRAPL(raplPeriod)

	ticker := s.clock.NewTicker(intervalS)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.setState(StateFlushing)
			close(s.raplStop)
			<-s.raplDone
			return nil

		case <-ticker.C():
			if !s.Alive() {
				s.logger.Info("target process gone, flushing and exiting", "pid", s.cfg.PID)
				s.setState(StateFlushing)
				close(s.raplStop)
				<-s.raplDone
				return nil
			}

			if err := s.sampleOnce(); err != nil {
				s.logger.Error("sample failed", "error", err)
				continue
			}
		}
	}
}

// pollRAPL keeps the RAPL accumulator current between attribution
// samples, protecting counter wrap on long intervals (spec.md §4.6/§5).
func (s *Sampler) pollRAPL(period time.Duration) {
	defer close(s.raplDone)
	ticker := s.clock.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-s.raplStop:
			return
		case <-ticker.C():
			s.rapl.Poll()
		}
	}
}

// sampleOnce takes one host+RAPL+thread snapshot, runs the attribution
// engine, and writes a trace row (spec.md §4.4/§4.6 RUNNING).
func (s *Sampler) sampleOnce() error {
	now := s.clock.Now()

	s.mu.Lock()
	prevHost := s.prevHost
	prevTime := s.prevTime
	s.mu.Unlock()

	deltaT := now.Sub(prevTime).Seconds()

	curHost, err := s.hostProbe.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to snapshot host: %w", err)
	}

	threadRecords, err := s.threads.Inventory(s.cfg.PID)
	if err != nil {
		return fmt.Errorf("failed to inventory threads: %w", err)
	}

	procMem, err := s.procNUMA.ResidencyBytes(s.cfg.PID)
	if err != nil {
		procMem = map[int]uint64{}
	}

	sockets := s.topo.Sockets()

	hostCPUDeltaJ := map[int]float64{}
	hostDRAMDeltaJ := map[int]float64{}
	hostCPUTimeDeltaS := map[int]float64{}
	targetNUMABytes := map[int]float64{}
	hostNUMABytes := map[int]float64{}
	threadPresent := map[int]bool{}

	var threadDeltas []attribution.ThreadCPUDelta
	for _, rec := range threadRecords {
		if rec.Socket == resource.SocketUnknown {
			continue // spec.md §9(b): UNKNOWN-socket threads drop from the numerator
		}
		d := s.threads.CPUTimeDelta(rec.TID, rec.CPUTimeS)
		threadDeltas = append(threadDeltas, attribution.ThreadCPUDelta{Socket: rec.Socket, DeltaS: d})
		threadPresent[rec.Socket] = true
	}

	for _, sock := range sockets {
		hostCPUTimeDeltaS[sock] = curHost.CPUTimePerSocket[sock] - prevHost.CPUTimePerSocket[sock]
		if v, err := s.rapl.ReadDomain(sock, device.DomainPackage); err == nil {
			hostCPUDeltaJ[sock] = v
		}
		if v, err := s.rapl.ReadDomain(sock, device.DomainDRAM); err == nil {
			hostDRAMDeltaJ[sock] = v
		}
		targetNUMABytes[sock] = float64(procMem[sock])
		hostNUMABytes[sock] = curHost.NUMAMemPerNode[sock] * 1024 * 1024 // MB -> bytes
	}

	// RAPL accumulators are cumulative-since-start, so the delta for this
	// interval is current minus the value captured at the previous sample;
	// the reader itself already performs wrap correction (device.RAPLReader).
	prevCPU, prevDRAM := s.lastRAPLTotals()
	curCPU := map[int]float64{}
	curDRAM := map[int]float64{}
	for _, sock := range sockets {
		if v, ok := hostCPUDeltaJ[sock]; ok {
			curCPU[sock] = v
		}
		hostCPUDeltaJ[sock] -= prevCPU[sock]
		if v, ok := hostDRAMDeltaJ[sock]; ok {
			curDRAM[sock] = v
			hostDRAMDeltaJ[sock] -= prevDRAM[sock]
		}
	}

	in := attribution.Input{
		DeltaT:                deltaT,
		Sockets:               sockets,
		HostCPUDeltaJ:         hostCPUDeltaJ,
		HostDRAMDeltaJ:        hostDRAMDeltaJ,
		HostCPUTimeDeltaS:     hostCPUTimeDeltaS,
		ThreadDeltas:          threadDeltas,
		TargetNUMABytes:       targetNUMABytes,
		HostNUMABytes:         hostNUMABytes,
		ThreadPresentOnSocket: threadPresent,
		Baseline:              s.base,
		Gamma:                 s.cfg.Gamma,
		Delta:                 s.cfg.Delta,
	}

	results, err := attribution.Attribute(in)
	if err != nil {
		s.logger.Warn("skipping sample", "error", err)
		return nil
	}

	s.mu.Lock()
	s.prevRAPLCPU = curCPU
	s.prevRAPLDRAM = curDRAM
	s.prevHost = curHost
	s.prevTime = now
	s.mu.Unlock()

	return s.sink.Write(trace.Row{
		Timestamp: now,
		IntervalS: deltaT,
		Sockets:   results,
	})
}

// lastRAPLTotals/saveRAPLTotals track the previous cumulative RAPL
// reading per socket so sampleOnce can report only this interval's delta
// (device.RAPLReader.ReadDomain returns the full cumulative total).
func (s *Sampler) lastRAPLTotals() (map[int]float64, map[int]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prevRAPLCPU == nil {
		return map[int]float64{}, map[int]float64{}
	}
	return s.prevRAPLCPU, s.prevRAPLDRAM
}

func (s *Sampler) saveRAPLTotals(sockets []int) {
	cpu := map[int]float64{}
	dram := map[int]float64{}
	for _, sock := range sockets {
		if v, err := s.rapl.ReadDomain(sock, device.DomainPackage); err == nil {
			cpu[sock] = v
		}
		if v, err := s.rapl.ReadDomain(sock, device.DomainDRAM); err == nil {
			dram[sock] = v
		}
	}
	s.mu.Lock()
	s.prevRAPLCPU = cpu
	s.prevRAPLDRAM = dram
	s.mu.Unlock()
}

// Shutdown flushes the trace sink and transitions to DONE.
func (s *Sampler) Shutdown() error {
	defer s.setState(StateDone)
	if s.sink == nil {
		return nil
	}
	return s.sink.Close()
}
