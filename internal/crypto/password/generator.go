// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// package password generates login passwords for fleet accounts.
package password // import "github.com/toeirei/keymaster-chatops/internal/crypto/password"

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
)

// DefaultLength is the length used when callers have no preference.
const DefaultLength = 12

// MinLength is one character per class.
const MinLength = 4

// Character classes. Glyphs that are easy to confuse when read off a chat
// message (i l 1 I O 0) are left out.
const (
	Lower   = "abcdefghjkmnopqrstuvwxyz"
	Upper   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	Digits  = "23456789"
	Symbols = "~!@#$%^&*_+-="
)

// Classes lists the alphabets a password must draw at least one character from.
var Classes = []string{Lower, Upper, Digits, Symbols}

// ErrTooShort is returned for lengths below MinLength.
var ErrTooShort = errors.New("password length must be at least 4")

// Generator produces passwords from a cryptographically secure source.
type Generator struct {
	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader
}

// Generate is a convenience wrapper around a default Generator.
func Generate(length int) (string, error) {
	return Generator{}.Generate(length)
}

// Generate returns a password of the given length holding at least one
// character of every class; the remainder is drawn uniformly from the union
// of all classes and the result is shuffled.
func (g Generator) Generate(length int) (string, error) {
	if length < MinLength {
		return "", fmt.Errorf("%w: got %d", ErrTooShort, length)
	}
	src := g.Rand
	if src == nil {
		src = rand.Reader
	}

	all := Lower + Upper + Digits + Symbols
	out := make([]byte, 0, length)
	for _, class := range Classes {
		c, err := pick(src, class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := pick(src, all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	for i := len(out) - 1; i > 0; i-- {
		j, err := randIndex(src, i+1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

func pick(src io.Reader, alphabet string) (byte, error) {
	i, err := randIndex(src, len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[i], nil
}

func randIndex(src io.Reader, n int) (int, error) {
	v, err := rand.Int(src, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to read random source: %w", err)
	}
	return int(v.Int64()), nil
}
