// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"strings"
	"testing"
)

func TestPublicKeyEntryString(t *testing.T) {
	k := PublicKeyEntry{Algorithm: "ssh-ed25519", KeyData: "AAAAC3NzaC1lZDI1NTE5", Comment: "me@example.com"}
	want := "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5 me@example.com"
	if got := k.String(); got != want {
		t.Errorf("unexpected PublicKeyEntry.String(): got %q want %q", got, want)
	}

	k.Line = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5   me@example.com"
	if got := k.String(); got != k.Line {
		t.Errorf("expected literal line to win, got %q", got)
	}
}

func TestPublicKeyEntrySameKeyIgnoresComment(t *testing.T) {
	a := PublicKeyEntry{Algorithm: "ssh-ed25519", KeyData: "AAAA", Comment: "laptop"}
	b := PublicKeyEntry{Algorithm: "ssh-ed25519", KeyData: "AAAA", Comment: "desktop"}
	if !a.SameKey(b) {
		t.Fatalf("expected keys differing only in comment to be the same key")
	}
	b.KeyData = "BBBB"
	if a.SameKey(b) {
		t.Fatalf("expected different key data to differ")
	}
}

func TestNewRoster(t *testing.T) {
	r, err := NewRoster([]Host{{Alias: "gpu1", Address: "10.0.0.1"}, {Alias: "gpu2", Address: "10.0.0.2"}})
	if err != nil {
		t.Fatalf("NewRoster: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 hosts, got %d", r.Len())
	}
	if h, ok := r.Lookup("gpu2"); !ok || h.Address != "10.0.0.2" {
		t.Fatalf("lookup gpu2: %v %v", h, ok)
	}

	hosts, unknown := r.Subset([]string{"gpu2", "nope"})
	if len(hosts) != 1 || hosts[0].Alias != "gpu2" {
		t.Fatalf("unexpected subset: %v", hosts)
	}
	if len(unknown) != 1 || unknown[0] != "nope" {
		t.Fatalf("unexpected unknown aliases: %v", unknown)
	}

	if _, err := NewRoster([]Host{{Alias: "a", Address: "x"}, {Alias: "a", Address: "y"}}); err == nil {
		t.Fatalf("expected duplicate alias to be rejected")
	}
	if _, err := NewRoster([]Host{{Alias: "a"}}); err == nil {
		t.Fatalf("expected missing address to be rejected")
	}
}

func TestBatchOutcomeSummary(t *testing.T) {
	o := NewBatchOutcome()
	o.Succeeded.Add("gpu1")
	o.Failed[Host{Alias: "gpu3", Address: "c"}] = FailureDetail{Unreachable: true, ExitCode: -1, Err: "dial tcp: i/o timeout"}
	o.Failed[Host{Alias: "gpu2", Address: "b"}] = FailureDetail{ExitCode: 1, Stderr: "chpasswd: error\n"}

	if o.OK() {
		t.Fatalf("expected outcome with failures to not be OK")
	}
	failed := o.FailedHosts()
	if len(failed) != 2 || failed[0].Alias != "gpu2" || failed[1].Alias != "gpu3" {
		t.Fatalf("expected failed hosts sorted by alias, got %v", failed)
	}
	s := o.Summary()
	for _, want := range []string{"1 succeeded, 2 failed", "gpu2: exit code 1: chpasswd: error", "gpu3: unreachable: dial tcp: i/o timeout"} {
		if !strings.Contains(s, want) {
			t.Fatalf("summary missing %q:\n%s", want, s)
		}
	}
}
