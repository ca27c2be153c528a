// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package router

import (
	"context"

	"github.com/juju/collections/set"
)

// AdminChecker reports whether an identity may run admin commands. Chat
// platform integrations implement it on top of their member APIs.
type AdminChecker interface {
	IsAdmin(ctx context.Context, identity string) (bool, error)
}

// AdminList is an AdminChecker backed by a fixed list, usually the admins
// section of the config file.
type AdminList struct {
	ids set.Strings
}

// NewAdminList returns a checker accepting exactly ids.
func NewAdminList(ids ...string) AdminList {
	return AdminList{ids: set.NewStrings(ids...)}
}

func (a AdminList) IsAdmin(_ context.Context, identity string) (bool, error) {
	return a.ids.Contains(identity), nil
}
