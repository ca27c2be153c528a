// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package fleet_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/toeirei/keymaster-chatops/internal/fleet"
	"github.com/toeirei/keymaster-chatops/internal/testutil"
)

func TestMergeAuthorizedKeys(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		keys     []string
		want     string
	}{
		{
			name: "empty file",
			keys: []string{"ssh-rsa AAAA a@b"},
			want: "ssh-rsa AAAA a@b km\n",
		},
		{
			name:     "untagged lines preserved, tagged replaced",
			existing: "ssh-ed25519 MANUAL admin\nssh-rsa OLD old km\n# comment\n",
			keys:     []string{"ssh-rsa NEW1 one", "ssh-rsa NEW2"},
			want:     "ssh-ed25519 MANUAL admin\n# comment\nssh-rsa NEW1 one km\nssh-rsa NEW2 km\n",
		},
		{
			name:     "tag inside a comment is not a tag",
			existing: "ssh-rsa KEEP km-backup\nssh-rsa KEEP2 kmx km2\n",
			want:     "ssh-rsa KEEP km-backup\nssh-rsa KEEP2 kmx km2\n",
		},
		{
			name:     "hand-edited comment after the tag is still managed",
			existing: "ssh-rsa OLD old km edited\nssh-rsa KEEP keep\n",
			keys:     []string{"ssh-rsa NEW"},
			want:     "ssh-rsa KEEP keep\nssh-rsa NEW km\n",
		},
		{
			name:     "no keys removes managed lines",
			existing: "ssh-rsa OLD km\r\nssh-rsa KEEP\r\n",
			want:     "ssh-rsa KEEP\n",
		},
		{
			name: "lines with newlines are dropped",
			keys: []string{"ssh-rsa A\nssh-rsa EVIL", "ssh-rsa OK"},
			want: "ssh-rsa OK km\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(fleet.MergeAuthorizedKeys([]byte(tt.existing), tt.keys, "km"))
			if got != tt.want {
				t.Fatalf("got:\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestMergeAuthorizedKeys_ResyncIsStable(t *testing.T) {
	keys := []string{"ssh-rsa AAAA k1", "ssh-rsa BBBB k2"}
	once := fleet.MergeAuthorizedKeys([]byte("ssh-rsa MANUAL admin\n"), keys, "km")
	twice := fleet.MergeAuthorizedKeys(once, keys, "km")
	if string(once) != string(twice) {
		t.Fatalf("re-sync changed the file:\n%q\n%q", once, twice)
	}
	if n := strings.Count(string(twice), "ssh-rsa AAAA k1 km"); n != 1 {
		t.Fatalf("managed key present %d times after re-sync", n)
	}
}

func TestValidTag(t *testing.T) {
	for tag, want := range map[string]bool{
		"keymaster-chatops": true,
		"":                  false,
		"keymaster managed": false,
		"km\n":              false,
	} {
		if got := fleet.ValidTag(tag); got != want {
			t.Fatalf("ValidTag(%q) = %v, want %v", tag, got, want)
		}
	}
}

func TestSyncKeys_Apply(t *testing.T) {
	d := testutil.NewFakeDialer("h1")
	h := d.Host("h1")
	h.SetFile("/home/alice/.ssh/authorized_keys", "ssh-ed25519 MANUAL admin\nssh-rsa STALE km\n")

	op := fleet.SyncKeys{User: "alice", HomeRoot: "/home", Keys: []string{"ssh-rsa K1 c1", "ssh-rsa K2 c2"}, Tag: "km"}
	out := fleet.New(d, fleet.Options{}).Run(context.Background(), op, testutil.Roster("h1"))
	if !out.OK() {
		t.Fatalf("sync failed: %s", out.Summary())
	}

	got, _ := h.File("/home/alice/.ssh/authorized_keys")
	want := "ssh-ed25519 MANUAL admin\nssh-rsa K1 c1 km\nssh-rsa K2 c2 km\n"
	if got != want {
		t.Fatalf("authorized_keys = %q, want %q", got, want)
	}
	if h.Modes["/home/alice/.ssh/authorized_keys"] != os.FileMode(0o600) {
		t.Fatalf("unexpected mode %v", h.Modes["/home/alice/.ssh/authorized_keys"])
	}
	if h.Owners["/home/alice/.ssh/authorized_keys"] != "alice" || h.Owners["/home/alice/.ssh"] != "alice" {
		t.Fatalf("unexpected owners: %v", h.Owners)
	}
}

func TestSyncKeys_MissingFileAndFailingMkdir(t *testing.T) {
	d := testutil.NewFakeDialer("ok", "bad")
	d.Host("bad").Fail["mkdir"] = fleet.Result{Stderr: "mkdir: Permission denied", ExitCode: 1}

	op := fleet.SyncKeys{User: "root", Keys: []string{"ssh-rsa K1"}, Tag: "km"}
	out := fleet.New(d, fleet.Options{}).Run(context.Background(), op, testutil.Roster("ok", "bad"))

	if got, _ := d.Host("ok").File("/root/.ssh/authorized_keys"); got != "ssh-rsa K1 km\n" {
		t.Fatalf("unexpected root authorized_keys: %q", got)
	}
	if _, ok := d.Host("bad").File("/root/.ssh/authorized_keys"); ok {
		t.Fatalf("file written despite mkdir failure")
	}
	if len(out.Failed) != 1 || out.FailedHosts()[0].Alias != "bad" {
		t.Fatalf("expected bad to fail: %s", out.Summary())
	}
}

func TestLockPasswords_AllUsersAttempted(t *testing.T) {
	d := testutil.NewFakeDialer("h1")
	op := fleet.LockPasswords{Users: []string{"alice", "bob"}}
	out := fleet.New(d, fleet.Options{}).Run(context.Background(), op, testutil.Roster("h1"))
	if !out.OK() {
		t.Fatalf("lock failed: %s", out.Summary())
	}
	if !d.Host("h1").IsLocked("alice") || !d.Host("h1").IsLocked("bob") {
		t.Fatalf("not every user was locked")
	}
}

func TestHomeDir(t *testing.T) {
	if got := fleet.HomeDir("/home", "root"); got != "/root" {
		t.Fatalf("root home = %q", got)
	}
	if got := fleet.HomeDir("", "alice"); got != "/home/alice" {
		t.Fatalf("default home = %q", got)
	}
	if got := fleet.HomeDir("/data/users/", "bob"); got != "/data/users/bob" {
		t.Fatalf("custom home = %q", got)
	}
}
