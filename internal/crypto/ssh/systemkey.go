// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// package ssh generates the key pair the fleet executor logs in with.
package ssh // import "github.com/toeirei/keymaster-chatops/internal/crypto/ssh"

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/toeirei/keymaster-chatops/internal/security"
	"golang.org/x/crypto/ssh"
)

// SystemKey is a freshly generated login key for the fleet.
type SystemKey struct {
	// AuthorizedLine is the public half in authorized_keys format.
	AuthorizedLine string
	// PrivateKey is the OpenSSH PEM encoding of the private half.
	PrivateKey security.Secret
}

// GenerateSystemKey creates an ed25519 key pair. A non-empty passphrase
// encrypts the private key.
func GenerateSystemKey(comment string, passphrase security.Secret) (SystemKey, error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SystemKey{}, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return SystemKey{}, fmt.Errorf("failed to create SSH public key: %w", err)
	}
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPubKey)))
	if comment != "" {
		line += " " + comment
	}

	var block *pem.Block
	if len(passphrase) == 0 {
		block, err = ssh.MarshalPrivateKey(privKey, comment)
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(privKey, comment, passphrase.Bytes())
	}
	if err != nil {
		return SystemKey{}, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return SystemKey{AuthorizedLine: line, PrivateKey: security.Secret(pem.EncodeToMemory(block))}, nil
}

// WriteFiles stores the private key at path (0600) and the public key at
// path+".pub" (0644). Existing files are not overwritten.
func (k SystemKey) WriteFiles(path string) error {
	if err := writeNew(path, k.PrivateKey.Bytes(), 0o600); err != nil {
		return err
	}
	if err := writeNew(path+".pub", []byte(k.AuthorizedLine+"\n"), 0o644); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

func writeNew(path string, data []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
