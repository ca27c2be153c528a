// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"fmt"
	"net"
	"strings"
)

// ParseHostPort splits an address as written in the roster. It accepts an
// optional "user@" prefix, bracketed or bare IPv6 literals and an optional
// port. port is empty when none was given.
func ParseHostPort(in string) (host, port string, err error) {
	s := strings.TrimSpace(in)
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return "", "", fmt.Errorf("empty address %q", in)
	}
	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end < 0 {
			return "", "", fmt.Errorf("missing ']' in address %q", in)
		}
		host = s[1:end]
		rest := s[end+1:]
		if rest == "" {
			return host, "", nil
		}
		if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
			return "", "", fmt.Errorf("invalid port in address %q", in)
		}
		return host, rest[1:], nil
	}
	// More than one colon without brackets is a bare IPv6 literal.
	if strings.Count(s, ":") > 1 {
		return s, "", nil
	}
	if h, p, err := net.SplitHostPort(s); err == nil {
		return h, p, nil
	}
	return s, "", nil
}

// JoinHostPort joins host and port, substituting defPort when port is empty.
func JoinHostPort(host, port, defPort string) string {
	if port == "" {
		port = defPort
	}
	return net.JoinHostPort(host, port)
}

// CanonicalizeHostPort returns host:port with port 22 filled in. Unparseable
// input is returned unchanged.
func CanonicalizeHostPort(in string) string {
	h, p, err := ParseHostPort(in)
	if err != nil {
		return in
	}
	return JoinHostPort(h, p, "22")
}
