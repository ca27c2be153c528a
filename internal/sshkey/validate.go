// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package sshkey

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/cryptobyte"
)

// blobSegments is the number of length-prefixed segments a key blob must hold.
const blobSegments = 3

// Validate reports whether line is a structurally sound public key of the form
// "<algorithm> <base64-blob> [comment]".
//
// The blob must be canonical base64 (re-encoding yields the field verbatim)
// and consist of exactly three uint32 length-prefixed segments, the first of
// which names the same algorithm as the line. Segments two and three are only
// length-checked.
func Validate(line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return false
	}
	blob, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil {
		return false
	}
	if base64.StdEncoding.EncodeToString(blob) != fields[1] {
		return false
	}

	s := cryptobyte.String(blob)
	for i := 0; i < blobSegments; i++ {
		var n uint32
		var seg []byte
		if !s.ReadUint32(&n) || !s.ReadBytes(&seg, int(n)) {
			return false
		}
		if i == 0 && (!utf8.Valid(seg) || string(seg) != fields[0]) {
			return false
		}
	}
	return s.Empty()
}

// IsDuplicate reports whether candidate carries the same algorithm and key
// data as any of the existing lines. Comments are ignored.
func IsDuplicate(existing []string, candidate string) bool {
	want, err := Entry(candidate)
	if err != nil {
		return false
	}
	for _, line := range existing {
		if e, err := Entry(line); err == nil && e.SameKey(want) {
			return true
		}
	}
	return false
}
