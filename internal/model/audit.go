// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import "time"

// AuditLogEntry is one row of the audit trail.
type AuditLogEntry struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}

// Record is one key/value pair of the binding store.
type Record struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// BackupData is the full content of the store as written by a backup.
type BackupData struct {
	SchemaVersion int             `json:"schema_version"`
	CreatedAt     time.Time       `json:"created_at"`
	Records       []Record        `json:"records"`
	AuditLog      []AuditLogEntry `json:"audit_log"`
}
