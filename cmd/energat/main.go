// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/olekukonko/tablewriter"

	"github.com/HongyuHe/energat/internal/baseline"
	"github.com/HongyuHe/energat/internal/config"
	"github.com/HongyuHe/energat/internal/device"
	"github.com/HongyuHe/energat/internal/logger"
	"github.com/HongyuHe/energat/internal/resource"
	"github.com/HongyuHe/energat/internal/sampler"
	"github.com/HongyuHe/energat/internal/service"
	"github.com/HongyuHe/energat/internal/topology"
	"github.com/HongyuHe/energat/internal/trace"
)

// Exit codes, spec.md §6.
const (
	exitOK                  = 0
	exitConfigOrPermission  = 1
	exitUnsupportedHardware = 2
	exitTargetGoneEarly     = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	app := kingpin.New("energat", "Fine-grained per-process energy attribution for multi-tenant Linux hosts.")
	updateCfg := config.RegisterFlags(app)

	if _, err := app.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitConfigOrPermission
	}

	cfg := config.DefaultConfig()
	if err := updateCfg(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitConfigOrPermission
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	topo, err := topology.Discover(cfg.SysfsPath)
	if err != nil {
		log.Error("failed to discover CPU topology", "error", err)
		return exitConfigOrPermission
	}

	powercap, err := device.NewPowercapReader(cfg.SysfsPath)
	if err != nil {
		log.Error("failed to open powercap sysfs", "error", err)
		return exitConfigOrPermission
	}

	raplReader, err := device.NewRAPLReader(powercap, log)
	if err != nil {
		log.Error("no usable RAPL package domain found", "error", err)
		return exitUnsupportedHardware
	}

	switch {
	case cfg.Check:
		return runCheck(log, topo, raplReader)
	case cfg.BasePower:
		return runBasePower(cfg, log, raplReader)
	default:
		return runAttach(cfg, log, topo, raplReader)
	}
}

// runCheck implements spec.md §6's `--check`: a topology/permissions
// probe that reports what would be usable, exit 0 on success.
func runCheck(log *slog.Logger, topo *topology.Topology, rapl *device.RAPLReader) int {
	sockets := rapl.Sockets()
	rows := make([][]string, 0, len(sockets))
	for _, s := range sockets {
		cpuOK := "yes"
		if _, err := rapl.ReadDomain(s, device.DomainPackage); err != nil {
			cpuOK = "no: " + err.Error()
		}
		dramOK := "yes"
		if _, err := rapl.ReadDomain(s, device.DomainDRAM); err != nil {
			dramOK = "unsupported"
		}
		rows = append(rows, []string{fmt.Sprintf("%d", s), cpuOK, dramOK})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Socket", "Package", "DRAM"})
	table.AppendBulk(rows)
	table.Render()

	log.Info("check complete", "sockets", len(sockets), "topology_sockets", topo.SocketCount())
	return exitOK
}

// runBasePower implements spec.md §4.5/§6's `--basepower`: one-shot idle
// calibration, writing a baseline file.
func runBasePower(cfg *config.Config, log *slog.Logger, rapl *device.RAPLReader) int {
	calibrator := baseline.NewCalibrator(rapl, cfg.RAPLPeriod, log)

	b, err := calibrator.Run(context.Background(), cfg.BasePeriod)
	if err != nil {
		log.Error("calibration failed", "error", err)
		return exitConfigOrPermission
	}

	if err := baseline.Save(cfg.BaseFile, b); err != nil {
		log.Error("failed to write baseline file", "error", err)
		return exitConfigOrPermission
	}

	log.Info("baseline written", "path", cfg.BaseFile)
	return exitOK
}

// runAttach implements the `--pid`/`--name` attach modes: discover
// infrastructure, build the sampler, and run it under the teacher's
// service orchestration until the target exits or a signal arrives.
func runAttach(cfg *config.Config, log *slog.Logger, topo *topology.Topology, rapl *device.RAPLReader) int {
	pid := cfg.PID
	if pid == 0 {
		resolved, err := resource.FindPIDByName(cfg.ProcfsPath, cfg.Name)
		if err != nil {
			log.Error("failed to resolve --name to a pid", "name", cfg.Name, "error", err)
			return exitConfigOrPermission
		}
		pid = resolved
	}

	hostProbe, err := resource.NewHostProbe(cfg.ProcfsPath, cfg.SysfsPath, topo)
	if err != nil {
		log.Error("failed to open host probe", "error", err)
		return exitConfigOrPermission
	}

	threads, err := resource.NewThreadInventory(cfg.ProcfsPath, topo, log)
	if err != nil {
		log.Error("failed to open thread inventory", "error", err)
		return exitConfigOrPermission
	}

	procNUMA := resource.NewProcessNUMAReader(cfg.ProcfsPath)

	nSockets := 0
	for _, s := range topo.Sockets() {
		if s+1 > nSockets {
			nSockets = s + 1
		}
	}
	base, err := baseline.Load(cfg.BaseFile, nSockets, log)
	if err != nil {
		log.Error("failed to load baseline", "error", err)
		return exitConfigOrPermission
	}

	outFile, err := os.Create(cfg.Output)
	if err != nil {
		log.Error("failed to open trace output", "path", cfg.Output, "error", err)
		return exitConfigOrPermission
	}
	sink := trace.New(outFile, topo.Sockets())

	samplerCfg := sampler.Config{
		PID:         pid,
		IntervalS:   cfg.Interval,
		RAPLPeriodS: cfg.RAPLPeriod,
		Gamma:       cfg.Gamma,
		Delta:       cfg.Delta,
		ProcfsPath:  cfg.ProcfsPath,
	}
	smp := sampler.New(samplerCfg, rapl, hostProbe, threads, procNUMA, topo, base, sink, log)

	if !smp.Alive() {
		log.Error("target process not found before first sample", "pid", pid)
		return exitTargetGoneEarly
	}

	services := []service.Service{smp, service.NewSignalHandler(os.Interrupt, syscall.SIGTERM)}

	if err := service.Init(log, services); err != nil {
		log.Error("initialization failed", "error", err)
		return exitConfigOrPermission
	}

	if err := service.Run(context.Background(), log, services); err != nil {
		log.Error("run failed", "error", err)
		return exitConfigOrPermission
	}

	return exitOK
}
