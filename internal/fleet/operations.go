// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package fleet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"unicode"

	"github.com/toeirei/keymaster-chatops/internal/security"
)

// HomeDir returns the home directory of user under homeRoot. root keeps
// its conventional /root.
func HomeDir(homeRoot, user string) string {
	if user == "root" {
		return "/root"
	}
	if homeRoot == "" {
		homeRoot = "/home"
	}
	return path.Join(homeRoot, user)
}

// SetPassword sets User's password through chpasswd. The password travels
// on stdin only, never on the command line.
type SetPassword struct {
	User     string
	Password security.Secret
}

func (SetPassword) Name() string { return "set-password" }

func (o SetPassword) Apply(ctx context.Context, r Remote) (Result, error) {
	stdin := make([]byte, 0, len(o.User)+len(o.Password)+2)
	stdin = append(stdin, o.User...)
	stdin = append(stdin, ':')
	stdin = append(stdin, o.Password.Bytes()...)
	stdin = append(stdin, '\n')
	defer clear(stdin)
	return r.Execute(ctx, Command{Args: []string{"chpasswd"}, Stdin: stdin})
}

// LockPasswords locks the password of every listed user. Every user is
// attempted; the first non-zero exit becomes the host's result.
type LockPasswords struct {
	Users []string
}

func (LockPasswords) Name() string { return "lock-passwords" }

func (o LockPasswords) Apply(ctx context.Context, r Remote) (Result, error) {
	var combined Result
	var stdout, stderr strings.Builder
	for _, u := range o.Users {
		res, err := r.Execute(ctx, Command{Args: []string{"passwd", "-l", u}})
		if err != nil {
			return combined, fmt.Errorf("lock %s: %w", u, err)
		}
		stdout.WriteString(res.Stdout)
		stderr.WriteString(res.Stderr)
		if res.ExitCode != 0 && combined.ExitCode == 0 {
			combined.ExitCode = res.ExitCode
		}
	}
	combined.Stdout = stdout.String()
	combined.Stderr = stderr.String()
	return combined, nil
}

// SyncKeys replaces the managed part of User's authorized_keys with Keys.
// Lines not carrying Tag are preserved verbatim.
type SyncKeys struct {
	User     string
	HomeRoot string
	Keys     []string
	Tag      string
}

func (SyncKeys) Name() string { return "sync-keys" }

func (o SyncKeys) Apply(ctx context.Context, r Remote) (Result, error) {
	sshDir := path.Join(HomeDir(o.HomeRoot, o.User), ".ssh")
	authPath := path.Join(sshDir, "authorized_keys")

	for _, args := range [][]string{
		{"mkdir", "-p", sshDir},
		{"chown", o.User + ":", sshDir},
		{"chmod", "700", sshDir},
	} {
		res, err := r.Execute(ctx, Command{Args: args})
		if err != nil || res.ExitCode != 0 {
			return res, err
		}
	}

	existing, err := r.ReadFile(ctx, authPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Result{}, fmt.Errorf("read %s: %w", authPath, err)
	}

	return r.CopyFile(ctx, File{
		Path:    authPath,
		Content: MergeAuthorizedKeys(existing, o.Keys, o.Tag),
		Mode:    0o600,
		Owner:   o.User,
	})
}

// ValidTag reports whether tag can mark managed lines: it must be a single
// non-empty word.
func ValidTag(tag string) bool {
	return tag != "" && !strings.ContainsFunc(tag, unicode.IsSpace)
}

// IsTagged reports whether an authorized_keys line carries tag as one of its
// whitespace-separated fields after the first. Lines whose comment was edited
// around the tag still count as managed.
func IsTagged(line, tag string) bool {
	f := strings.Fields(line)
	for i := 1; i < len(f); i++ {
		if f[i] == tag {
			return true
		}
	}
	return false
}

// MergeAuthorizedKeys drops every line tagged with tag from existing and
// appends keys, each suffixed with tag. Untagged lines keep their order and
// content.
func MergeAuthorizedKeys(existing []byte, keys []string, tag string) []byte {
	var b strings.Builder
	for _, line := range strings.Split(string(existing), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || IsTagged(line, tag) {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || strings.ContainsAny(k, "\r\n") {
			continue
		}
		b.WriteString(k)
		b.WriteByte(' ')
		b.WriteString(tag)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
