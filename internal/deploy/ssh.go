// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// package deploy reaches fleet hosts over SSH. It implements the remote
// command channel the fleet executor drives: structured commands over an SSH
// session and atomic file writes over SFTP.
package deploy // import "github.com/toeirei/keymaster-chatops/internal/deploy"

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/juju/utils/v4"
	"github.com/pkg/sftp"
	"github.com/toeirei/keymaster-chatops/internal/fleet"
	"github.com/toeirei/keymaster-chatops/internal/model"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultConnectTimeout bounds TCP connect plus SSH handshake.
const DefaultConnectTimeout = 10 * time.Second

// ErrPassphraseRequired is returned by NewSSHDialer when the private key is
// encrypted and no passphrase was supplied.
var ErrPassphraseRequired = errors.New("private key is passphrase protected")

// Seams for tests.
var (
	sshAgentGetter = localSSHAgent
	netDial        = (&net.Dialer{}).DialContext
)

// Config configures an SSHDialer.
type Config struct {
	User string
	// PrivateKey is a PEM/OpenSSH private key. When empty only the local
	// SSH agent is used.
	PrivateKey     []byte
	Passphrase     []byte
	KnownHostsPath string
	ConnectTimeout time.Duration
}

// SSHDialer opens SSH connections to fleet hosts. It is safe for concurrent use.
type SSHDialer struct {
	user     string
	signer   ssh.Signer
	hostKeys ssh.HostKeyCallback
	timeout  time.Duration
}

var _ fleet.Dialer = (*SSHDialer)(nil)

// NewSSHDialer validates cfg and prepares the authentication and host key
// checking shared by every connection.
func NewSSHDialer(cfg Config) (*SSHDialer, error) {
	if cfg.User == "" {
		return nil, errors.New("ssh user is required")
	}
	if cfg.KnownHostsPath == "" {
		return nil, errors.New("a known_hosts file is required; run 'keymaster-chatops trust-host' to create it")
	}
	hostKeys, err := knownhosts.New(cfg.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts %s: %w", cfg.KnownHostsPath, err)
	}

	d := &SSHDialer{user: cfg.User, hostKeys: hostKeys, timeout: cfg.ConnectTimeout}
	if d.timeout <= 0 {
		d.timeout = DefaultConnectTimeout
	}
	if len(cfg.PrivateKey) > 0 {
		d.signer, err = ParseSigner(cfg.PrivateKey, cfg.Passphrase)
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

// ParseSigner parses a private key, decrypting it with passphrase if needed.
func ParseSigner(pemBytes, passphrase []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}
	if len(passphrase) == 0 {
		return nil, ErrPassphraseRequired
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, passphrase)
	if err != nil {
		return nil, fmt.Errorf("unable to decrypt private key: %w", err)
	}
	return signer, nil
}

// Dial connects to host. The private key is tried first; on an
// authentication failure the local SSH agent is used as a fallback.
func (d *SSHDialer) Dial(ctx context.Context, host model.Host) (fleet.Remote, error) {
	addr := CanonicalizeHostPort(host.Address)
	var firstErr error

	if d.signer != nil {
		client, err := d.connect(ctx, addr, ssh.PublicKeys(d.signer))
		if err == nil {
			return newSSHRemote(client), nil
		}
		if !IsAuthenticationError(err) {
			return nil, ClassifyConnectionError(host.Alias, err)
		}
		firstErr = err
	}

	agentClient := sshAgentGetter()
	if agentClient == nil {
		if firstErr != nil {
			return nil, ClassifyConnectionError(host.Alias, fmt.Errorf("system key rejected and no SSH agent available: %w", firstErr))
		}
		return nil, fmt.Errorf("no authentication method available for %s (no private key configured and no ssh agent found)", host.Alias)
	}
	client, err := d.connect(ctx, addr, ssh.PublicKeysCallback(agentClient.Signers))
	if err != nil {
		return nil, ClassifyConnectionError(host.Alias, err)
	}
	return newSSHRemote(client), nil
}

func (d *SSHDialer) connect(ctx context.Context, addr string, auth ssh.AuthMethod) (*ssh.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	conn, err := netDial(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	// The handshake does not watch ctx; a deadline on the conn bounds it.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	cfg := &ssh.ClientConfig{
		User:            d.user,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: d.hostKeys,
		Timeout:         d.timeout,
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// ShellJoin renders argv as a single shell command line with every argument
// single-quoted, so the remote shell sees exactly len(args) words.
func ShellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = utils.ShQuote(a)
	}
	return strings.Join(quoted, " ")
}

// sshRemote is one open connection. Commands run in fresh sessions; file
// transfer shares one lazily opened SFTP subsystem.
type sshRemote struct {
	client *ssh.Client
	run    func(ctx context.Context, cmd fleet.Command) (fleet.Result, error)

	mu     sync.Mutex
	fs     remoteFS
	openFS func() (remoteFS, error)
}

func newSSHRemote(client *ssh.Client) *sshRemote {
	r := &sshRemote{client: client}
	r.run = r.runSession
	r.openFS = func() (remoteFS, error) {
		c, err := sftp.NewClient(client)
		if err != nil {
			return nil, &fleet.ChannelError{Err: fmt.Errorf("failed to create sftp client: %w", err)}
		}
		return sftpFS{c}, nil
	}
	return r
}

func (r *sshRemote) Execute(ctx context.Context, cmd fleet.Command) (fleet.Result, error) {
	if len(cmd.Args) == 0 {
		return fleet.Result{}, errors.New("empty command")
	}
	return r.run(ctx, cmd)
}

func (r *sshRemote) runSession(ctx context.Context, cmd fleet.Command) (fleet.Result, error) {
	sess, err := r.client.NewSession()
	if err != nil {
		return fleet.Result{}, &fleet.ChannelError{Err: fmt.Errorf("failed to open session: %w", err)}
	}
	defer func() { _ = sess.Close() }()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if cmd.Stdin != nil {
		sess.Stdin = bytes.NewReader(cmd.Stdin)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(ShellJoin(cmd.Args)) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return fleet.Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}, ctx.Err()
	}

	res := fleet.Result{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	}
	if err != nil {
		res.ExitCode = -1
		return res, &fleet.ChannelError{Err: fmt.Errorf("remote command %s: %w", cmd.Args[0], err)}
	}
	return res, nil
}

func (r *sshRemote) fileSystem() (remoteFS, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fs == nil {
		fs, err := r.openFS()
		if err != nil {
			return nil, err
		}
		r.fs = fs
	}
	return r.fs, nil
}

func (r *sshRemote) ReadFile(ctx context.Context, path string) ([]byte, error) {
	fs, err := r.fileSystem()
	if err != nil {
		return nil, err
	}
	return readRemoteFile(fs, path)
}

// CopyFile uploads to a temporary file next to the target, applies the mode
// and renames it into place. The owner is set with chown afterwards.
func (r *sshRemote) CopyFile(ctx context.Context, f fleet.File) (fleet.Result, error) {
	fs, err := r.fileSystem()
	if err != nil {
		return fleet.Result{}, err
	}
	if err := writeRemoteFileAtomic(fs, f.Path, f.Content, f.Mode); err != nil {
		return fleet.Result{}, err
	}
	if f.Owner == "" {
		return fleet.Result{}, nil
	}
	return r.Execute(ctx, fleet.Command{Args: []string{"chown", f.Owner + ":", f.Path}})
}

func (r *sshRemote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fs != nil {
		_ = r.fs.Close()
		r.fs = nil
	}
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// GetRemoteHostKey connects to addr only to retrieve its host key.
func GetRemoteHostKey(ctx context.Context, addr string) (ssh.PublicKey, error) {
	var hostKey ssh.PublicKey
	errGotKey := errors.New("keymaster-chatops: retrieved host key")

	config := &ssh.ClientConfig{
		// No authentication happens; the handshake stops at host key verification.
		User: "keymaster-probe",
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			hostKey = key
			return errGotKey
		},
		Timeout: 5 * time.Second,
	}

	addr = CanonicalizeHostPort(addr)
	ctx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()
	conn, err := netDial(ctx, "tcp", addr)
	if err != nil {
		return nil, ClassifyConnectionError(addr, err)
	}
	defer func() { _ = conn.Close() }()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	_, _, _, err = ssh.NewClientConn(conn, addr, config)
	if hostKey != nil {
		return hostKey, nil
	}
	if err == nil {
		return nil, errors.New("ssh handshake succeeded unexpectedly, could not retrieve key")
	}
	return nil, ClassifyConnectionError(addr, err)
}

// AppendKnownHost records key for addr in the known_hosts file at path,
// creating the file if needed.
func AppendKnownHost(path, addr string, key ssh.PublicKey) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts %s: %w", path, err)
	}
	line := knownhosts.Line([]string{knownhosts.Normalize(CanonicalizeHostPort(addr))}, key)
	if _, err := fmt.Fprintln(f, line); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write known_hosts %s: %w", path, err)
	}
	return f.Close()
}
