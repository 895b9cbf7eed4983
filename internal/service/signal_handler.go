// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
)

// SignalHandler is a Runner that stops the attach run group the moment
// one of its watched OS signals arrives (spec.md §6: Ctrl+C or SIGTERM
// must trigger the sampler's FLUSHING state rather than an abrupt
// exit). It does nothing on its own; Run returning is what causes
// service.Run's run.Group to cancel every other service's context.
type SignalHandler struct {
	signals []os.Signal
}

// NewSignalHandler watches the given signals once Run is called.
func NewSignalHandler(signals ...os.Signal) *SignalHandler {
	return &SignalHandler{signals: signals}
}

func (sh *SignalHandler) Name() string { return "signal-handler" }

// Run blocks until a watched signal arrives or ctx is cancelled by a
// sibling service (e.g. the sampler noticing the target process is
// gone), whichever comes first.
func (sh *SignalHandler) Run(ctx context.Context) error {
	caught := make(chan os.Signal, 1)
	signal.Notify(caught, sh.signals...)
	defer signal.Stop(caught)

	fmt.Printf("waiting for %s to stop sampling\n", sh.describe())

	select {
	case <-caught:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (sh *SignalHandler) describe() string {
	if len(sh.signals) == 0 {
		return "a signal"
	}
	names := make([]string, len(sh.signals))
	for i, s := range sh.signals {
		names[i] = s.String()
	}
	return strings.Join(names, "/")
}
