// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeService is a Service with none, some, or all of Initializer,
// Runner and Shutdowner grafted on via the optional fn fields -- the
// same capability-by-type-assertion shape Init and Run dispatch against.
type fakeService struct {
	name string

	initFn     func() error
	runFn      func(ctx context.Context) error
	shutdownFn func() error

	initCalls     int
	runCalls      int
	shutdownCalls int
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Init() error {
	f.initCalls++
	if f.initFn == nil {
		return nil
	}
	return f.initFn()
}

func (f *fakeService) Run(ctx context.Context) error {
	f.runCalls++
	if f.runFn == nil {
		return nil
	}
	return f.runFn(ctx)
}

func (f *fakeService) Shutdown() error {
	f.shutdownCalls++
	if f.shutdownFn == nil {
		return nil
	}
	return f.shutdownFn()
}

// plainService implements only Service, to exercise the "skip, it
// doesn't implement the capability" branches of Init/Run.
type plainService struct{ name string }

func (p *plainService) Name() string { return p.name }

func TestInit(t *testing.T) {
	t.Run("every initializer runs, plain services are skipped", func(t *testing.T) {
		a := &fakeService{name: "a"}
		b := &fakeService{name: "b"}
		plain := &plainService{name: "plain"}

		err := Init(nil, []Service{a, b, plain})

		assert.NoError(t, err)
		assert.Equal(t, 1, a.initCalls)
		assert.Equal(t, 1, b.initCalls)
	})

	t.Run("a failed init unwinds everything already started", func(t *testing.T) {
		initErr := errors.New("boom")
		a := &fakeService{name: "a"}
		b := &fakeService{name: "b", initFn: func() error { return initErr }}
		c := &fakeService{name: "c"}

		err := Init(nil, []Service{a, b, c})

		assert.Error(t, err)
		assert.ErrorIs(t, err, initErr)

		assert.Equal(t, 1, a.initCalls)
		assert.Equal(t, 1, a.shutdownCalls, "a was started, so it must be torn down")

		assert.Equal(t, 1, b.initCalls)
		assert.Equal(t, 0, b.shutdownCalls, "b never finished initializing")

		assert.Equal(t, 0, c.initCalls, "c is never reached")
		assert.Equal(t, 0, c.shutdownCalls)
	})

	t.Run("a shutdown error during unwind doesn't mask the init error", func(t *testing.T) {
		initErr := errors.New("init boom")
		shutdownErr := errors.New("shutdown boom")
		a := &fakeService{name: "a", shutdownFn: func() error { return shutdownErr }}
		b := &fakeService{name: "b", initFn: func() error { return initErr }}

		err := Init(nil, []Service{a, b})

		assert.Error(t, err)
		assert.ErrorIs(t, err, initErr)
		assert.NotErrorIs(t, err, shutdownErr)
		assert.Equal(t, 1, a.shutdownCalls)
	})

	t.Run("a plain service started earlier is simply left alone on unwind", func(t *testing.T) {
		initErr := errors.New("boom")
		plain := &plainService{name: "plain"}
		failing := &fakeService{name: "failing", initFn: func() error { return initErr }}

		err := Init(nil, []Service{plain, failing})

		assert.Error(t, err)
		assert.ErrorIs(t, err, initErr)
	})

	t.Run("empty service list is a no-op", func(t *testing.T) {
		assert.NoError(t, Init(nil, nil))
	})
}

func TestRun(t *testing.T) {
	t.Run("canceling the outer context stops every runner", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())

		started1 := make(chan struct{})
		started2 := make(chan struct{})
		a := &fakeService{name: "a", runFn: func(ctx context.Context) error {
			close(started1)
			<-ctx.Done()
			return ctx.Err()
		}}
		b := &fakeService{name: "b", runFn: func(ctx context.Context) error {
			close(started2)
			<-ctx.Done()
			return ctx.Err()
		}}

		errCh := make(chan error, 1)
		go func() { errCh <- Run(ctx, nil, []Service{a, b}) }()

		<-started1
		<-started2
		cancel()

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("Run did not return after cancellation")
		}
		assert.Equal(t, 1, a.runCalls)
		assert.Equal(t, 1, b.runCalls)
	})

	t.Run("one runner's failure shuts down the rest of the group", func(t *testing.T) {
		runErr := errors.New("run boom")
		failing := &fakeService{name: "failing", runFn: func(ctx context.Context) error {
			return runErr
		}}
		blocked := &fakeService{name: "blocked", runFn: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}

		err := Run(context.Background(), nil, []Service{failing, blocked})

		assert.Error(t, err)
		assert.ErrorIs(t, err, runErr)
		assert.Equal(t, 1, failing.shutdownCalls)
	})

	t.Run("a shutdown error is absorbed and doesn't replace the run error", func(t *testing.T) {
		runErr := errors.New("run boom")
		svc := &fakeService{
			name:       "svc",
			runFn:      func(ctx context.Context) error { return runErr },
			shutdownFn: func() error { return errors.New("shutdown boom") },
		}

		err := Run(context.Background(), nil, []Service{svc})

		assert.Error(t, err)
		assert.ErrorIs(t, err, runErr)
		assert.Equal(t, 1, svc.runCalls)
		assert.Equal(t, 1, svc.shutdownCalls)
	})

	t.Run("a plain service is skipped rather than blocking the group", func(t *testing.T) {
		runErr := errors.New("run boom")
		failing := &fakeService{name: "failing", runFn: func(ctx context.Context) error { return runErr }}
		plain := &plainService{name: "plain"}

		err := Run(context.Background(), nil, []Service{failing, plain})

		assert.Error(t, err)
		assert.ErrorIs(t, err, runErr)
	})

	t.Run("empty service list is a no-op", func(t *testing.T) {
		assert.NoError(t, Run(context.Background(), nil, nil))
	})
}
