// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"

	"github.com/toeirei/keymaster-chatops/internal/model"
)

// Tx is the read-modify-write view handed to Store.Update. Every call runs
// inside the same database transaction.
type Tx interface {
	// Get returns the value stored under key and whether it exists.
	Get(key string) (string, bool, error)
	// Set creates or replaces the value stored under key.
	Set(key, value string) error
	// Delete removes the given keys. Missing keys are ignored.
	Delete(keys ...string) error
}

// Store defines the persistence operations used by the account directory
// and the command-line tools.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// GetMany returns the values of the keys that exist; absent keys are
	// not present in the result map.
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)
	// Keys returns every stored key starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Update runs fn in a single transaction. If fn returns an error nothing
	// it wrote is committed.
	Update(ctx context.Context, fn func(tx Tx) error) error

	LogAction(ctx context.Context, actor, action, details string) error
	// AuditLog returns up to limit entries, most recent first. A limit <= 0
	// returns every entry.
	AuditLog(ctx context.Context, limit int) ([]model.AuditLogEntry, error)

	ExportRecords(ctx context.Context) (*model.BackupData, error)
	// ImportRecords wipes the store and replaces it with the backup content.
	ImportRecords(ctx context.Context, backup *model.BackupData) error

	Close() error
}
