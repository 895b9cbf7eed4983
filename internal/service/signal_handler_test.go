// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalHandler_NameIsStable(t *testing.T) {
	assert.Equal(t, "signal-handler", NewSignalHandler(syscall.SIGINT).Name())
}

func TestSignalHandler_RunReturnsOnContextCancellation(t *testing.T) {
	sh := NewSignalHandler(syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sh.Run(ctx) }()

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestSignalHandler_DescribeListsEverySignal(t *testing.T) {
	sh := NewSignalHandler(syscall.SIGINT, syscall.SIGTERM)
	require.Contains(t, sh.describe(), "interrupt")
	require.Contains(t, sh.describe(), "terminated")

	empty := NewSignalHandler()
	assert.Equal(t, "a signal", empty.describe())
}
