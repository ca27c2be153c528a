// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"context"
	"sync"
)

// StaticAdmins is an admin checker with a fixed answer per identity that
// counts how often it was asked.
type StaticAdmins struct {
	mu     sync.Mutex
	admins map[string]bool
	calls  int
	Err    error
}

// NewStaticAdmins returns a checker that accepts ids.
func NewStaticAdmins(ids ...string) *StaticAdmins {
	s := &StaticAdmins{admins: map[string]bool{}}
	for _, id := range ids {
		s.admins[id] = true
	}
	return s
}

func (s *StaticAdmins) IsAdmin(_ context.Context, identity string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.Err != nil {
		return false, s.Err
	}
	return s.admins[identity], nil
}

// Set grants or revokes admin rights for identity.
func (s *StaticAdmins) Set(identity string, admin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins[identity] = admin
}

// Calls returns how many checks were made.
func (s *StaticAdmins) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
