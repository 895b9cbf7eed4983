// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package service orchestrates the two long-lived components energat's
// cmd wires together at attach time: the sampler (the Sampling Loop of
// spec.md §4.6) and a signal handler watching for Ctrl+C/SIGTERM. Each
// is a Service; it opts into setup and teardown by additionally
// implementing Initializer and/or Shutdowner, and into a blocking loop
// by implementing Runner. Init and Run are driven separately because
// the sampler needs its first host/RAPL snapshot (Init) to happen
// before either service starts ticking (Run).
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/oklog/run"
)

// Service is the minimal capability every managed service has: a name
// for logging. Init, Run, and Shutdown are all optional, expressed by
// the Initializer, Runner, and Shutdowner interfaces below -- a plain
// Service with none of them is valid (and skipped by both Init and Run).
type Service interface {
	Name() string
}

// Initializer is implemented by services that need one-time setup
// before Run is called -- the sampler checks that its target is alive and
// takes its first host snapshot and RAPL reading here.
type Initializer interface {
	Name() string
	Init() error
}

// Runner is implemented by services with a blocking loop driven by ctx
// -- the sampler's tick-attribute-write cycle, or the signal handler's
// wait-for-signal select.
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// Shutdowner is implemented by services that must release resources on
// every exit path (normal completion, signal, or a sibling's error) --
// the sampler flushes its trace sink here.
type Shutdowner interface {
	Name() string
	Shutdown() error
}

func orLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// shutdownIfCapable calls Shutdown on svc when it implements Shutdowner,
// logging (not returning) any failure -- teardown must run best-effort
// across every service regardless of one sibling's error.
func shutdownIfCapable(logger *slog.Logger, svc Service) {
	shutdowner, ok := svc.(Shutdowner)
	if !ok {
		logger.Debug("service has no teardown step", "service", svc.Name())
		return
	}
	logger.Info("shutting down", "service", svc.Name())
	if err := shutdowner.Shutdown(); err != nil {
		logger.Warn("shutdown failed", "service", svc.Name(), "error", err)
	}
}

// Init runs Init on every service that implements Initializer, in
// order. On the first failure it unwinds: every already-initialized
// service is shut down (best-effort) before the error is returned. The
// service whose own Init failed is not shut down.
func Init(logger *slog.Logger, services []Service) error {
	logger = orLogger(logger)

	initialized := make([]Service, 0, len(services))
	var failure error

	for _, s := range services {
		srv, ok := s.(Initializer)
		if !ok {
			logger.Debug("service has no init step", "service", s.Name())
			continue
		}
		logger.Info("initializing", "service", s.Name())
		if err := srv.Init(); err != nil {
			failure = fmt.Errorf("initializing service %s: %w", s.Name(), err)
			break
		}
		initialized = append(initialized, s)
	}

	if failure == nil {
		return nil
	}

	logger.Info("unwinding partially initialized services")
	for _, s := range initialized {
		shutdownIfCapable(logger, s)
	}
	return failure
}

// Run drives every Runner-implementing service concurrently via
// oklog/run: the sampling loop and the signal handler race each other,
// and whichever exits first (target gone, sampler error, or a caught
// signal) cancels the shared context so the other unwinds too. Each
// Runner that also implements Shutdowner is torn down as it stops.
func Run(outer context.Context, logger *slog.Logger, services []Service) error {
	logger = orLogger(logger)

	ctx, cancel := context.WithCancel(outer)
	defer cancel()

	var g run.Group
	for _, s := range services {
		runner, ok := s.(Runner)
		if !ok {
			logger.Warn("service has no run loop, skipping", "service", s.Name())
			continue
		}
		svc, r := s, runner
		g.Add(
			func() error {
				logger.Info("running", "service", svc.Name())
				return r.Run(ctx)
			},
			func(err error) {
				cancel()
				if err != nil {
					logger.Warn("service stopped", "service", svc.Name(), "reason", err)
				}
				shutdownIfCapable(logger, svc)
			},
		)
	}

	return g.Run()
}
