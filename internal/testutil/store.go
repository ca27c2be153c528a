// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"strings"
	"testing"

	"github.com/toeirei/keymaster-chatops/internal/db"
)

// NewStore opens an in-memory sqlite store private to the calling test and
// closes it on cleanup.
func NewStore(t *testing.T, opts ...db.Option) *db.BunStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := db.NewStoreFromDSN("sqlite", "file:"+name+"?mode=memory&cache=shared", opts...)
	if err != nil {
		t.Fatalf("NewStoreFromDSN failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}
