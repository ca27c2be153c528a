// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package fleet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/toeirei/keymaster-chatops/internal/model"
)

// PartialFailure is returned when an operation did not reach every host.
// The caller's committed state stays valid; the error names the hosts that
// still need a retry.
type PartialFailure struct {
	Op      string
	Outcome model.BatchOutcome
}

// Check returns a *PartialFailure for outcome, or nil when every host succeeded.
func Check(op string, outcome model.BatchOutcome) error {
	if outcome.OK() {
		return nil
	}
	return &PartialFailure{Op: op, Outcome: outcome}
}

func (e *PartialFailure) Error() string {
	failed := e.Outcome.FailedHosts()
	parts := make([]string, 0, len(failed))
	for _, h := range failed {
		parts = append(parts, fmt.Sprintf("%s (%s)", h.Alias, e.Outcome.Failed[h].Reason()))
	}
	total := len(failed) + e.Outcome.Succeeded.Size()
	return fmt.Sprintf("%s failed on %d of %d hosts: %s", e.Op, len(failed), total, strings.Join(parts, "; "))
}

// Hosts returns the aliases of the failing hosts, sorted.
func (e *PartialFailure) Hosts() []string {
	failed := e.Outcome.FailedHosts()
	out := make([]string, 0, len(failed))
	for _, h := range failed {
		out = append(out, h.Alias)
	}
	return out
}

// AsPartialFailure extracts a *PartialFailure from err's chain.
func AsPartialFailure(err error) (*PartialFailure, bool) {
	var pf *PartialFailure
	if errors.As(err, &pf) {
		return pf, true
	}
	return nil, false
}

// ChannelError marks a failure of the connection itself (a session or
// subsystem could not be opened, the transport dropped). Remotes wrap such
// errors so the executor can tell an unreachable host from one that answered
// and failed.
type ChannelError struct {
	Err error
}

func (e *ChannelError) Error() string { return e.Err.Error() }

func (e *ChannelError) Unwrap() error { return e.Err }

// IsChannelError reports whether err's chain holds a *ChannelError.
func IsChannelError(err error) bool {
	var ce *ChannelError
	return errors.As(err, &ce)
}
