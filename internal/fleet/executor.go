// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package fleet applies one credential operation to many hosts in parallel
// and aggregates the per-host results.
package fleet // import "github.com/toeirei/keymaster-chatops/internal/fleet"

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/toeirei/keymaster-chatops/internal/logging"
	"github.com/toeirei/keymaster-chatops/internal/model"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency = 5
	DefaultHostTimeout = 30 * time.Second
)

// Operation is the work applied to a single host.
type Operation interface {
	// Name identifies the operation in logs and errors.
	Name() string
	Apply(ctx context.Context, r Remote) (Result, error)
}

// Options tunes an Executor. Zero values select the defaults.
type Options struct {
	Concurrency int
	HostTimeout time.Duration
	Clock       clock.Clock
}

// Executor runs operations against the fleet.
type Executor struct {
	dialer      Dialer
	concurrency int
	hostTimeout time.Duration
	clock       clock.Clock
}

// New returns an Executor that reaches hosts through d.
func New(d Dialer, opts Options) *Executor {
	e := &Executor{
		dialer:      d,
		concurrency: opts.Concurrency,
		hostTimeout: opts.HostTimeout,
		clock:       opts.Clock,
	}
	if e.concurrency <= 0 {
		e.concurrency = DefaultConcurrency
	}
	if e.hostTimeout <= 0 {
		e.hostTimeout = DefaultHostTimeout
	}
	if e.clock == nil {
		e.clock = clock.WallClock
	}
	return e
}

type hostResult struct {
	ok     bool
	detail model.FailureDetail
}

// Run applies op to every host and waits for all of them. A failing host
// never stops the others; the returned outcome holds exactly one entry per
// host.
func (e *Executor) Run(ctx context.Context, op Operation, hosts []model.Host) model.BatchOutcome {
	start := e.clock.Now()
	// Each task writes only its own slot.
	results := make([]hostResult, len(hosts))

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for i, h := range hosts {
		g.Go(func() error {
			results[i] = e.runHost(ctx, op, h)
			return nil
		})
	}
	_ = g.Wait()

	outcome := model.NewBatchOutcome()
	for i, h := range hosts {
		if results[i].ok {
			outcome.Succeeded.Add(h.Alias)
			continue
		}
		outcome.Failed[h] = results[i].detail
	}
	logging.Infof("fleet: %s on %d hosts in %s: %d succeeded, %d failed",
		op.Name(), len(hosts), e.clock.Now().Sub(start).Round(time.Millisecond), outcome.Succeeded.Size(), len(outcome.Failed))
	return outcome
}

// runHost bounds one host's dial and operation by the host timeout. A call
// that ignores cancellation is abandoned when the timer fires.
func (e *Executor) runHost(ctx context.Context, op Operation, h model.Host) hostResult {
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan hostResult, 1)
	go func() { done <- e.applyOnHost(hctx, op, h) }()

	select {
	case r := <-done:
		if r.ok {
			logging.Debugf("fleet: %s on %s: ok", op.Name(), h.Alias)
		} else {
			logging.Debugf("fleet: %s on %s: %s", op.Name(), h.Alias, r.detail.Reason())
		}
		return r
	case <-e.clock.After(e.hostTimeout):
		logging.Warnf("fleet: %s on %s timed out after %s", op.Name(), h.Alias, e.hostTimeout)
		return hostResult{detail: model.FailureDetail{
			ExitCode:    -1,
			Unreachable: true,
			Err:         fmt.Sprintf("timed out after %s", e.hostTimeout),
		}}
	case <-ctx.Done():
		return hostResult{detail: model.FailureDetail{ExitCode: -1, Unreachable: true, Err: ctx.Err().Error()}}
	}
}

func (e *Executor) applyOnHost(ctx context.Context, op Operation, h model.Host) hostResult {
	remote, err := e.dialer.Dial(ctx, h)
	if err != nil {
		return hostResult{detail: model.FailureDetail{ExitCode: -1, Unreachable: true, Err: err.Error()}}
	}
	defer func() { _ = remote.Close() }()

	res, err := op.Apply(ctx, remote)
	if err != nil {
		return hostResult{detail: model.FailureDetail{
			Stdout:      res.Stdout,
			Stderr:      res.Stderr,
			ExitCode:    -1,
			Unreachable: lostChannel(err),
			Err:         err.Error(),
		}}
	}
	if res.ExitCode != 0 {
		return hostResult{detail: model.FailureDetail{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}}
	}
	return hostResult{ok: true}
}

// lostChannel reports whether an Apply error means the host could not be
// talked to, as opposed to a failure the host itself reported.
func lostChannel(err error) bool {
	return IsChannelError(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
