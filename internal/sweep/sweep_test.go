// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package sweep_test

import (
	"context"
	"testing"

	"github.com/toeirei/keymaster-chatops/internal/fleet"
	"github.com/toeirei/keymaster-chatops/internal/model"
	"github.com/toeirei/keymaster-chatops/internal/sweep"
	"github.com/toeirei/keymaster-chatops/internal/testutil"
)

func newSweeper(t *testing.T, d *testutil.FakeDialer, aliases ...string) sweep.Sweeper {
	t.Helper()
	roster, err := model.NewRoster(testutil.Roster(aliases...))
	if err != nil {
		t.Fatalf("NewRoster failed: %v", err)
	}
	return sweep.Sweeper{
		Runner:   fleet.New(d, fleet.Options{}),
		Roster:   roster,
		Accounts: []string{"alice", "bob"},
	}
}

func TestLockAll(t *testing.T) {
	d := testutil.NewFakeDialer("h1", "h2")
	s := newSweeper(t, d, "h1", "h2")

	out, err := s.LockAll(context.Background())
	if err != nil {
		t.Fatalf("LockAll failed: %v", err)
	}
	if !out.OK() || out.Succeeded.Size() != 2 {
		t.Fatalf("unexpected outcome: %s", out.Summary())
	}
	for _, h := range []string{"h1", "h2"} {
		for _, u := range []string{"alice", "bob"} {
			if !d.Host(h).IsLocked(u) {
				t.Fatalf("%s: %s not locked", h, u)
			}
		}
	}
}

func TestLockAll_ReportsFailedHosts(t *testing.T) {
	d := testutil.NewFakeDialer("h1", "h2")
	d.Host("h2").Fail["passwd"] = fleet.Result{Stderr: "passwd: user 'bob' does not exist", ExitCode: 1}
	s := newSweeper(t, d, "h1", "h2")

	out, err := s.LockAll(context.Background())
	pf, ok := fleet.AsPartialFailure(err)
	if !ok {
		t.Fatalf("expected a partial failure, got %v", err)
	}
	if hosts := pf.Hosts(); len(hosts) != 1 || hosts[0] != "h2" {
		t.Fatalf("expected h2 to fail, got %v", hosts)
	}
	if !out.Succeeded.Contains("h1") {
		t.Fatalf("h1 should have succeeded: %s", out.Summary())
	}
}
