// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/juju/collections/set"
	"github.com/toeirei/keymaster-chatops/internal/fleet"
	"github.com/toeirei/keymaster-chatops/internal/model"
)

// FakeHost is an in-memory stand-in for one fleet host. It understands the
// commands the fleet operations issue (chpasswd, passwd -l, mkdir, chown,
// chmod) and keeps a tiny file system.
type FakeHost struct {
	mu sync.Mutex

	// DialErr makes Dial fail, simulating an unreachable host.
	DialErr error
	// Delay is slept before every command. Cancellation is honored unless
	// IgnoreContext is set, which simulates a hung connection.
	Delay         time.Duration
	IgnoreContext bool
	// Fail maps a program name to the result it returns instead of running.
	Fail map[string]fleet.Result
	// ReadErr, when set, is returned by every ReadFile.
	ReadErr error

	Passwords map[string]string
	Locked    set.Strings
	Files     map[string][]byte
	Modes     map[string]os.FileMode
	Owners    map[string]string
	Commands  [][]string
	Dials     int
}

// NewFakeHost returns a healthy host.
func NewFakeHost() *FakeHost {
	return &FakeHost{
		Fail:      map[string]fleet.Result{},
		Passwords: map[string]string{},
		Locked:    set.NewStrings(),
		Files:     map[string][]byte{},
		Modes:     map[string]os.FileMode{},
		Owners:    map[string]string{},
	}
}

// Password returns the password last set for user.
func (h *FakeHost) Password(user string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Passwords[user]
}

// File returns the content of path and whether it exists.
func (h *FakeHost) File(path string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.Files[path]
	return string(b), ok
}

// SetFile seeds a file.
func (h *FakeHost) SetFile(path, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Files[path] = []byte(content)
}

// IsLocked reports whether passwd -l ran for user.
func (h *FakeHost) IsLocked(user string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Locked.Contains(user)
}

// DialCount returns how often the host was dialed.
func (h *FakeHost) DialCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Dials
}

func (h *FakeHost) wait(ctx context.Context) error {
	if h.Delay <= 0 {
		return nil
	}
	if h.IgnoreContext {
		time.Sleep(h.Delay)
		return nil
	}
	select {
	case <-time.After(h.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FakeDialer hands out Remotes backed by FakeHosts, keyed by alias.
type FakeDialer struct {
	mu    sync.Mutex
	Hosts map[string]*FakeHost
}

// NewFakeDialer returns a dialer with one healthy FakeHost per alias.
func NewFakeDialer(aliases ...string) *FakeDialer {
	d := &FakeDialer{Hosts: map[string]*FakeHost{}}
	for _, a := range aliases {
		d.Hosts[a] = NewFakeHost()
	}
	return d
}

// Host returns the fake behind alias.
func (d *FakeDialer) Host(alias string) *FakeHost {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Hosts[alias]
}

// Roster returns hosts for every alias, in the order given.
func Roster(aliases ...string) []model.Host {
	out := make([]model.Host, 0, len(aliases))
	for _, a := range aliases {
		out = append(out, model.Host{Alias: a, Address: a + ".example:22"})
	}
	return out
}

func (d *FakeDialer) Dial(ctx context.Context, host model.Host) (fleet.Remote, error) {
	h := d.Host(host.Alias)
	if h == nil {
		return nil, fmt.Errorf("dial %s: no route to host", host.Address)
	}
	h.mu.Lock()
	h.Dials++
	dialErr := h.DialErr
	h.mu.Unlock()
	if dialErr != nil {
		return nil, dialErr
	}
	return &fakeRemote{host: h}, nil
}

type fakeRemote struct {
	host *FakeHost
}

func (r *fakeRemote) Execute(ctx context.Context, cmd fleet.Command) (fleet.Result, error) {
	h := r.host
	if err := h.wait(ctx); err != nil {
		return fleet.Result{}, err
	}
	if len(cmd.Args) == 0 {
		return fleet.Result{}, errors.New("empty command")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Commands = append(h.Commands, append([]string(nil), cmd.Args...))

	if res, ok := h.Fail[cmd.Args[0]]; ok {
		return res, nil
	}
	switch cmd.Args[0] {
	case "chpasswd":
		line := strings.TrimSuffix(string(cmd.Stdin), "\n")
		user, pw, ok := strings.Cut(line, ":")
		if !ok {
			return fleet.Result{Stderr: "chpasswd: line 1: missing new password", ExitCode: 1}, nil
		}
		h.Passwords[user] = pw
	case "passwd":
		if len(cmd.Args) != 3 || cmd.Args[1] != "-l" {
			return fleet.Result{Stderr: "passwd: unsupported", ExitCode: 2}, nil
		}
		h.Locked.Add(cmd.Args[2])
		return fleet.Result{Stdout: "passwd: password expiry information changed.\n"}, nil
	case "mkdir", "chmod":
	case "chown":
		if len(cmd.Args) == 3 {
			h.Owners[cmd.Args[2]] = strings.TrimSuffix(cmd.Args[1], ":")
		}
	default:
		return fleet.Result{Stderr: cmd.Args[0] + ": command not found", ExitCode: 127}, nil
	}
	return fleet.Result{}, nil
}

func (r *fakeRemote) ReadFile(ctx context.Context, path string) ([]byte, error) {
	h := r.host
	if err := h.wait(ctx); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ReadErr != nil {
		return nil, h.ReadErr
	}
	b, ok := h.Files[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), b...), nil
}

func (r *fakeRemote) CopyFile(ctx context.Context, f fleet.File) (fleet.Result, error) {
	h := r.host
	if err := h.wait(ctx); err != nil {
		return fleet.Result{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if res, ok := h.Fail["copy"]; ok {
		return res, nil
	}
	h.Files[f.Path] = append([]byte(nil), f.Content...)
	h.Modes[f.Path] = f.Mode
	if f.Owner != "" {
		h.Owners[f.Path] = f.Owner
	}
	return fleet.Result{}, nil
}

func (r *fakeRemote) Close() error { return nil }
