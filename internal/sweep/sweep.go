// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package sweep locks the passwords of every provisionable account across the
// fleet. It is meant to be triggered on a schedule so that rotated passwords
// have a bounded lifetime.
package sweep // import "github.com/toeirei/keymaster-chatops/internal/sweep"

import (
	"context"

	"github.com/toeirei/keymaster-chatops/internal/fleet"
	"github.com/toeirei/keymaster-chatops/internal/logging"
	"github.com/toeirei/keymaster-chatops/internal/model"
)

// Runner applies an operation to a set of hosts.
type Runner interface {
	Run(ctx context.Context, op fleet.Operation, hosts []model.Host) model.BatchOutcome
}

// Sweeper locks the given accounts on every roster host.
type Sweeper struct {
	Runner   Runner
	Roster   model.Roster
	Accounts []string
}

// LockAll runs passwd -l for every account on every host and returns the
// outcome together with a *fleet.PartialFailure when any host failed.
func (s Sweeper) LockAll(ctx context.Context) (model.BatchOutcome, error) {
	op := fleet.LockPasswords{Users: s.Accounts}
	hosts := s.Roster.Hosts()
	logging.Infof("sweep: locking %d accounts on %d hosts", len(s.Accounts), len(hosts))

	outcome := s.Runner.Run(ctx, op, hosts)
	logging.Infof("sweep: %s", outcome.Summary())
	return outcome, fleet.Check(op.Name(), outcome)
}
