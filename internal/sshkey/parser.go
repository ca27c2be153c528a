// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// package sshkey parses and structurally validates OpenSSH public key lines.
package sshkey // import "github.com/toeirei/keymaster-chatops/internal/sshkey"

import (
	"fmt"
	"strings"

	"github.com/toeirei/keymaster-chatops/internal/model"
	"golang.org/x/crypto/ssh"
)

// Parse splits a raw public key string (like one from an authorized_keys file)
// into its three core components: algorithm, key data, and comment.
// It correctly handles leading options in the line (e.g., from="...",command="...").
func Parse(rawKey string) (algorithm, keyData, comment string, err error) {
	fields := strings.Fields(rawKey)
	if len(fields) == 0 {
		err = fmt.Errorf("empty line")
		return
	}

	keyStartIndex := -1
	for i, field := range fields {
		if strings.HasPrefix(field, "ssh-") || strings.HasPrefix(field, "ecdsa-") || strings.HasPrefix(field, "sk-") {
			keyStartIndex = i
			break
		}
	}

	if keyStartIndex == -1 {
		err = fmt.Errorf("no valid SSH key type found in line")
		return
	}

	if len(fields) < keyStartIndex+2 {
		err = fmt.Errorf("invalid public key format: missing key data after algorithm")
		return
	}

	algorithm = fields[keyStartIndex]
	keyData = fields[keyStartIndex+1]
	if len(fields) > keyStartIndex+2 {
		comment = strings.Join(fields[keyStartIndex+2:], " ")
	}

	return
}

// Entry converts a stored key line into a model.PublicKeyEntry.
func Entry(line string) (model.PublicKeyEntry, error) {
	alg, data, comment, err := Parse(line)
	if err != nil {
		return model.PublicKeyEntry{}, err
	}
	return model.PublicKeyEntry{Algorithm: alg, KeyData: data, Comment: comment, Line: line}, nil
}

// Fingerprint returns the SHA256 fingerprint of a key line, as printed by
// ssh-keygen -l.
func Fingerprint(line string) (string, error) {
	pk, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		return "", fmt.Errorf("failed to parse public key: %w", err)
	}
	return ssh.FingerprintSHA256(pk), nil
}
