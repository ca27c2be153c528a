// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
)

// remoteFS is the subset of the SFTP client used for file transfer.
type remoteFS interface {
	Create(path string) (io.WriteCloser, error)
	Open(path string) (io.ReadCloser, error)
	Chmod(path string, mode os.FileMode) error
	PosixRename(oldname, newname string) error
	Rename(oldname, newname string) error
	Remove(path string) error
	Close() error
}

type sftpFS struct {
	c *sftp.Client
}

func (s sftpFS) Create(p string) (io.WriteCloser, error)   { return s.c.Create(p) }
func (s sftpFS) Open(p string) (io.ReadCloser, error)      { return s.c.Open(p) }
func (s sftpFS) Chmod(p string, mode os.FileMode) error    { return s.c.Chmod(p, mode) }
func (s sftpFS) PosixRename(oldname, newname string) error { return s.c.PosixRename(oldname, newname) }
func (s sftpFS) Rename(oldname, newname string) error      { return s.c.Rename(oldname, newname) }
func (s sftpFS) Remove(p string) error                     { return s.c.Remove(p) }
func (s sftpFS) Close() error                              { return s.c.Close() }

func readRemoteFile(fs remoteFS, p string) ([]byte, error) {
	f, err := fs.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote file %s: %w", p, err)
	}
	defer func() { _ = f.Close() }()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read from remote file %s: %w", p, err)
	}
	return content, nil
}

// writeRemoteFileAtomic writes content to a temporary file in the target's
// directory and renames it over the target, so readers never see a partial
// file.
func writeRemoteFileAtomic(fs remoteFS, target string, content []byte, mode os.FileMode) error {
	tmpPath := path.Join(path.Dir(target), fmt.Sprintf(".%s.keymaster-chatops.%d", path.Base(target), time.Now().UnixNano()))

	f, err := fs.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary file on remote: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("failed to write to temporary file on remote: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary file on remote: %w", err)
	}

	if err := fs.Chmod(tmpPath, mode); err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temporary file: %w", err)
	}

	// Plain SFTP rename refuses to replace an existing file on OpenSSH;
	// the posix-rename extension does.
	if err := fs.PosixRename(tmpPath, target); err != nil {
		if err2 := fs.Rename(tmpPath, target); err2 != nil {
			_ = fs.Remove(tmpPath)
			return fmt.Errorf("failed to atomically rename %s: %w", target, err)
		}
	}
	return nil
}
