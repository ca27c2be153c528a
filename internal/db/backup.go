// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/toeirei/keymaster-chatops/internal/model"
)

// WriteBackup encodes backup as zstd-compressed JSON.
func WriteBackup(w io.Writer, backup *model.BackupData) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	enc := json.NewEncoder(zw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(backup); err != nil {
		_ = zw.Close()
		return fmt.Errorf("failed to encode backup: %w", err)
	}
	return zw.Close()
}

// ReadBackup decodes a backup written by WriteBackup.
func ReadBackup(r io.Reader) (*model.BackupData, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer zr.Close()

	var backup model.BackupData
	if err := json.NewDecoder(zr).Decode(&backup); err != nil {
		return nil, fmt.Errorf("failed to decode backup: %w", err)
	}
	return &backup, nil
}
