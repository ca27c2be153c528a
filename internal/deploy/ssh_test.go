// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/toeirei/keymaster-chatops/internal/model"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

func TestIsConnectionTimeoutError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"timeout error", errors.New("connection timeout"), true},
		{"deadline exceeded", errors.New("context deadline exceeded"), true},
		{"i/o timeout", errors.New("dial tcp 10.0.0.1:22: i/o timeout"), true},
		{"other error", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := IsConnectionTimeoutError(tt.err); result != tt.expected {
				t.Errorf("IsConnectionTimeoutError(%v) = %v, expected %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestIsAuthenticationError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"x/crypto handshake", errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none publickey], no supported methods remain"), true},
		{"permission denied", errors.New("permission denied"), true},
		{"other error", errors.New("timeout"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := IsAuthenticationError(tt.err); result != tt.expected {
				t.Errorf("IsAuthenticationError(%v) = %v, expected %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestClassifyConnectionError(t *testing.T) {
	host := "test-host"
	tests := []struct {
		name        string
		err         error
		expectedMsg string
	}{
		{"timeout error", errors.New("i/o timeout"), "connection to test-host timed out"},
		{"connection refused", errors.New("connect: connection refused"), "connection to test-host refused"},
		{"no route", errors.New("connect: no route to host"), "connection to test-host refused"},
		{"authentication failed", errors.New("ssh: unable to authenticate"), "authentication failed for test-host"},
		{"knownhosts mismatch", &knownhosts.KeyError{Want: []knownhosts.KnownKey{{}}}, "host key verification failed for test-host"},
		{"knownhosts unknown", &knownhosts.KeyError{}, "host key verification failed for test-host"},
		{"generic error", errors.New("some other error"), "failed to connect to test-host"},
	}

	if ClassifyConnectionError(host, nil) != nil {
		t.Fatalf("expected nil for nil input")
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ClassifyConnectionError(host, tt.err)
			if result == nil || !strings.Contains(result.Error(), tt.expectedMsg) {
				t.Fatalf("expected error message to contain %q, got %v", tt.expectedMsg, result)
			}
			if !errors.Is(result, tt.err) {
				t.Fatalf("classified error lost the original cause")
			}
		})
	}
}

func TestHostPortHelpers(t *testing.T) {
	cases := []struct {
		in    string
		host  string
		port  string
		canon string
	}{
		{"example.com", "example.com", "", "example.com:22"},
		{"example.com:2222", "example.com", "2222", "example.com:2222"},
		{"192.168.1.10", "192.168.1.10", "", "192.168.1.10:22"},
		{"192.168.1.10:2200", "192.168.1.10", "2200", "192.168.1.10:2200"},
		{"[2001:db8::1]", "2001:db8::1", "", "[2001:db8::1]:22"},
		{"[2001:db8::1]:2200", "2001:db8::1", "2200", "[2001:db8::1]:2200"},
		{"2001:db8::1", "2001:db8::1", "", "[2001:db8::1]:22"},
		{"user@example.com", "example.com", "", "example.com:22"},
		{"user@[2001:db8::1]:2222", "2001:db8::1", "2222", "[2001:db8::1]:2222"},
	}
	for _, c := range cases {
		h, p, err := ParseHostPort(c.in)
		if err != nil {
			t.Fatalf("unexpected error parsing %q: %v", c.in, err)
		}
		if h != c.host || p != c.port {
			t.Errorf("ParseHostPort(%q) => host=%q port=%q; want host=%q port=%q", c.in, h, p, c.host, c.port)
		}
		if canon := CanonicalizeHostPort(c.in); canon != c.canon {
			t.Errorf("CanonicalizeHostPort(%q) => %q; want %q", c.in, canon, c.canon)
		}
		if joined := JoinHostPort(h, p, "22"); joined != c.canon {
			t.Errorf("JoinHostPort(%q,%q,22) => %q; want %q", h, p, joined, c.canon)
		}
	}

	for _, bad := range []string{"", "[2001:db8::1", "[::1]x"} {
		if _, _, err := ParseHostPort(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestShellJoin(t *testing.T) {
	got := ShellJoin([]string{"passwd", "-l", "o'brien; rm -rf /"})
	want := `'passwd' '-l' 'o'"'"'brien; rm -rf /'`
	if got != want {
		t.Fatalf("ShellJoin = %s, want %s", got, want)
	}
}

func newEd25519(t *testing.T) (ed25519.PrivateKey, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("NewPublicKey: %v", err)
	}
	return priv, sshPub
}

func TestParseSigner(t *testing.T) {
	priv, pub := newEd25519(t)

	plain, err := ssh.MarshalPrivateKey(priv, "plain")
	if err != nil {
		t.Fatalf("MarshalPrivateKey: %v", err)
	}
	signer, err := ParseSigner(pem.EncodeToMemory(plain), nil)
	if err != nil {
		t.Fatalf("ParseSigner(plain) failed: %v", err)
	}
	if string(signer.PublicKey().Marshal()) != string(pub.Marshal()) {
		t.Fatalf("parsed signer does not match generated key")
	}

	enc, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "enc", []byte("s3cret"))
	if err != nil {
		t.Fatalf("MarshalPrivateKeyWithPassphrase: %v", err)
	}
	encPEM := pem.EncodeToMemory(enc)
	if _, err := ParseSigner(encPEM, nil); !errors.Is(err, ErrPassphraseRequired) {
		t.Fatalf("expected ErrPassphraseRequired, got %v", err)
	}
	if _, err := ParseSigner(encPEM, []byte("wrong")); err == nil {
		t.Fatalf("expected error for wrong passphrase")
	}
	if _, err := ParseSigner(encPEM, []byte("s3cret")); err != nil {
		t.Fatalf("ParseSigner(encrypted) failed: %v", err)
	}
	if _, err := ParseSigner([]byte("garbage"), nil); err == nil {
		t.Fatalf("expected error for garbage key")
	}
}

func TestNewSSHDialer_Validation(t *testing.T) {
	dir := t.TempDir()
	kh := filepath.Join(dir, "known_hosts")
	if err := os.WriteFile(kh, nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := NewSSHDialer(Config{KnownHostsPath: kh}); err == nil {
		t.Fatalf("expected error without user")
	}
	if _, err := NewSSHDialer(Config{User: "root"}); err == nil {
		t.Fatalf("expected error without known_hosts")
	}
	if _, err := NewSSHDialer(Config{User: "root", KnownHostsPath: filepath.Join(dir, "missing")}); err == nil {
		t.Fatalf("expected error for missing known_hosts file")
	}
	if _, err := NewSSHDialer(Config{User: "root", KnownHostsPath: kh, PrivateKey: []byte("nope")}); err == nil {
		t.Fatalf("expected error for invalid private key")
	}
	d, err := NewSSHDialer(Config{User: "root", KnownHostsPath: kh})
	if err != nil {
		t.Fatalf("NewSSHDialer failed: %v", err)
	}
	if d.timeout != DefaultConnectTimeout {
		t.Fatalf("expected default timeout, got %v", d.timeout)
	}
}

func TestAppendKnownHost_TrustsKey(t *testing.T) {
	dir := t.TempDir()
	kh := filepath.Join(dir, "known_hosts")
	_, pub := newEd25519(t)
	_, other := newEd25519(t)

	if err := AppendKnownHost(kh, "gpu1.example:2222", pub); err != nil {
		t.Fatalf("AppendKnownHost failed: %v", err)
	}
	cb, err := knownhosts.New(kh)
	if err != nil {
		t.Fatalf("knownhosts.New: %v", err)
	}
	remote := &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 2222}
	if err := cb("gpu1.example:2222", remote, pub); err != nil {
		t.Fatalf("trusted key rejected: %v", err)
	}
	err = cb("gpu1.example:2222", remote, other)
	if err == nil || !IsHostKeyError(err) {
		t.Fatalf("expected host key mismatch, got %v", err)
	}
	if err := cb("gpu2.example:22", remote, pub); err == nil || !IsHostKeyError(err) {
		t.Fatalf("expected unknown host error, got %v", err)
	}
}

func TestDial_ClassifiesDialFailure(t *testing.T) {
	origDial := netDial
	origAgent := sshAgentGetter
	defer func() { netDial = origDial; sshAgentGetter = origAgent }()

	netDial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if addr != "10.0.0.9:22" {
			t.Errorf("unexpected dial address %q", addr)
		}
		return nil, errors.New("dial tcp 10.0.0.9:22: i/o timeout")
	}
	sshAgentGetter = func() agent.Agent { return agent.NewKeyring() }

	d := &SSHDialer{user: "root", hostKeys: ssh.InsecureIgnoreHostKey(), timeout: DefaultConnectTimeout}
	_, err := d.Dial(context.Background(), model.Host{Alias: "gpu9", Address: "10.0.0.9"})
	if err == nil || !strings.Contains(err.Error(), "connection to gpu9 timed out") {
		t.Fatalf("expected classified timeout, got %v", err)
	}
}

func TestDial_NoAuthMethod(t *testing.T) {
	origAgent := sshAgentGetter
	defer func() { sshAgentGetter = origAgent }()
	sshAgentGetter = func() agent.Agent { return nil }

	d := &SSHDialer{user: "root", hostKeys: ssh.InsecureIgnoreHostKey(), timeout: DefaultConnectTimeout}
	_, err := d.Dial(context.Background(), model.Host{Alias: "gpu1", Address: "10.0.0.1"})
	if err == nil || !strings.Contains(err.Error(), "no authentication method") {
		t.Fatalf("expected no-auth error, got %v", err)
	}
}
