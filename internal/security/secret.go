// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// package security holds wrappers for sensitive material (generated passwords,
// private key passphrases) in transit between components.
package security // import "github.com/toeirei/keymaster-chatops/internal/security"

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const redacted = "[SECRET]"

// ErrNotPersistable is returned when a Secret is handed to a SQL driver.
// Generated passwords only ever travel to hosts.
var ErrNotPersistable = errors.New("secrets must not be persisted")

// Secret is a byte slice that refuses to show itself in logs, JSON or SQL.
type Secret []byte

// FromString creates a Secret from a string.
func FromString(in string) Secret { return Secret([]byte(in)) }

// String redacts the secret for fmt.Print* convenience.
func (s Secret) String() string { return redacted }

// Format implements fmt.Formatter so `%v`, `%#v`, `%s` and friends are redacted.
func (s Secret) Format(f fmt.State, c rune) {
	_, _ = io.WriteString(f, redacted)
}

// Reveal returns the plain value. Call sites are the places where the secret
// legitimately leaves the process (remote stdin, the reply to its owner).
func (s Secret) Reveal() string { return string(s) }

// Bytes returns a copy of the underlying bytes.
func (s Secret) Bytes() []byte {
	out := make([]byte, len(s))
	copy(out, s)
	return out
}

// Zero overwrites the underlying byte slice with zeros.
func (s *Secret) Zero() {
	if s == nil || *s == nil {
		return
	}
	for i := range *s {
		(*s)[i] = 0
	}
}

// MarshalJSON redacts secrets in JSON marshaling.
func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(redacted) }

// MarshalText redacts secrets for text encoding.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Value implements driver.Valuer and always fails.
func (s Secret) Value() (driver.Value, error) { return nil, ErrNotPersistable }
