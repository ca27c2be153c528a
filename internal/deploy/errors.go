// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"fmt"
	"strings"
)

func containsAny(err error, needles ...string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

// IsConnectionTimeoutError reports whether err looks like a dial or I/O timeout.
func IsConnectionTimeoutError(err error) bool {
	return containsAny(err, "timeout", "timed out", "deadline exceeded")
}

// IsConnectionRefusedError reports whether the host actively refused or could not be routed to.
func IsConnectionRefusedError(err error) bool {
	return containsAny(err, "connection refused", "no route to host", "network is unreachable")
}

// IsAuthenticationError reports whether the SSH handshake failed during authentication.
func IsAuthenticationError(err error) bool {
	return containsAny(err, "unable to authenticate", "authentication failed", "permission denied", "no supported methods remain")
}

// IsHostKeyError reports whether host key verification rejected the server.
func IsHostKeyError(err error) bool {
	return containsAny(err, "host key mismatch", "unknown host key", "host key verification failed", "key is unknown", "key mismatch")
}

// ClassifyConnectionError wraps err with a message naming the failure class.
// The original error stays in the chain.
func ClassifyConnectionError(host string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsHostKeyError(err):
		return fmt.Errorf("host key verification failed for %s (run 'keymaster-chatops trust-host'): %w", host, err)
	case IsAuthenticationError(err):
		return fmt.Errorf("authentication failed for %s: %w", host, err)
	case IsConnectionTimeoutError(err):
		return fmt.Errorf("connection to %s timed out: %w", host, err)
	case IsConnectionRefusedError(err):
		return fmt.Errorf("connection to %s refused: %w", host, err)
	default:
		return fmt.Errorf("failed to connect to %s: %w", host, err)
	}
}
