// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package fleet

import (
	"context"
	"os"

	"github.com/toeirei/keymaster-chatops/internal/model"
)

// Command is a structured remote invocation. Args[0] is the program; every
// element reaches the remote side as exactly one argument.
type Command struct {
	Args  []string
	Stdin []byte
}

// File is a remote file write. Writes are atomic: readers see either the old
// or the new content.
type File struct {
	Path    string
	Content []byte
	Mode    os.FileMode
	// Owner, when set, is applied as "<owner>:" after the write.
	Owner string
}

// Result carries the output of a command that ran to completion.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Remote is an open connection to one host.
//
// A command that ran and exited non-zero is reported in Result, not as an
// error. Errors caused by a broken connection are wrapped in *ChannelError;
// any other error is a failure reported by the reachable host.
type Remote interface {
	Execute(ctx context.Context, cmd Command) (Result, error)
	// ReadFile returns the content of path. A missing file yields an error
	// matching os.ErrNotExist.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	CopyFile(ctx context.Context, f File) (Result, error)
	Close() error
}

// Dialer opens Remotes. Implementations must be safe for concurrent use.
type Dialer interface {
	Dial(ctx context.Context, host model.Host) (Remote, error)
}
