// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/toeirei/keymaster-chatops/internal/model"
	"github.com/uptrace/bun"
)

// BackupSchemaVersion is written into every backup produced by ExportRecords.
const BackupSchemaVersion = 1

// RecordModel is the Bun model for the records table.
type RecordModel struct {
	bun.BaseModel `bun:"table:records"`
	Key           string    `bun:"record_key,pk"`
	Value         string    `bun:"record_value,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

// AuditLogModel is the Bun model for the audit_log table.
type AuditLogModel struct {
	bun.BaseModel `bun:"table:audit_log"`
	ID            int       `bun:"id,pk,autoincrement"`
	Timestamp     time.Time `bun:"timestamp,notnull"`
	Actor         string    `bun:"actor,notnull"`
	Action        string    `bun:"action,notnull"`
	Details       string    `bun:"details,notnull"`
}

func auditLogModelToModel(a AuditLogModel) model.AuditLogEntry {
	return model.AuditLogEntry{ID: a.ID, Timestamp: a.Timestamp, Actor: a.Actor, Action: a.Action, Details: a.Details}
}

// Option configures a BunStore.
type Option func(*BunStore)

// WithClock sets the clock used for record and audit timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *BunStore) { s.clock = c }
}

// BunStore implements Store on any of the supported SQL engines.
type BunStore struct {
	bun   *bun.DB
	clock clock.Clock
}

var _ Store = (*BunStore)(nil)

func newBunStore(bdb *bun.DB, opts ...Option) *BunStore {
	s := &BunStore{bun: bdb, clock: clock.WallClock}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *BunStore) now() time.Time {
	return s.clock.Now().UTC()
}

// BunDB exposes the underlying Bun handle for maintenance tooling.
func (s *BunStore) BunDB() *bun.DB {
	return s.bun
}

func (s *BunStore) Get(ctx context.Context, key string) (string, bool, error) {
	return getRecord(ctx, s.bun, key)
}

// bunIDB is satisfied by both *bun.DB and bun.Tx.
type bunIDB interface {
	NewSelect() *bun.SelectQuery
	NewInsert() *bun.InsertQuery
	NewDelete() *bun.DeleteQuery
}

func getRecord(ctx context.Context, idb bunIDB, key string) (string, bool, error) {
	var rec RecordModel
	err := idb.NewSelect().Model(&rec).Where("record_key = ?", key).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get record %q: %w", key, err)
	}
	return rec.Value, true, nil
}

func (s *BunStore) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	var recs []RecordModel
	if err := s.bun.NewSelect().Model(&recs).Where("record_key IN (?)", bun.In(keys)).Scan(ctx); err != nil {
		return nil, fmt.Errorf("get records: %w", err)
	}
	for _, r := range recs {
		out[r.Key] = r.Value
	}
	return out, nil
}

func (s *BunStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	q := s.bun.NewSelect().Model((*RecordModel)(nil)).Column("record_key").OrderExpr("record_key ASC")
	if prefix != "" {
		// SUBSTR instead of LIKE so '%' and '_' in identities stay literal.
		q = q.Where("SUBSTR(record_key, 1, ?) = ?", len(prefix), prefix)
	}
	if err := q.Scan(ctx, &keys); err != nil {
		return nil, fmt.Errorf("list keys with prefix %q: %w", prefix, err)
	}
	return keys, nil
}

// bunTx adapts a bun.Tx to the Tx interface.
type bunTx struct {
	ctx context.Context
	tx  bun.Tx
	now time.Time
}

func (t *bunTx) Get(key string) (string, bool, error) {
	return getRecord(t.ctx, t.tx, key)
}

func (t *bunTx) Set(key, value string) error {
	// Delete-then-insert behaves the same on every dialect, unlike upserts.
	if _, err := t.tx.NewDelete().Model((*RecordModel)(nil)).Where("record_key = ?", key).Exec(t.ctx); err != nil {
		return fmt.Errorf("set record %q: %w", key, err)
	}
	rec := &RecordModel{Key: key, Value: value, UpdatedAt: t.now}
	if _, err := t.tx.NewInsert().Model(rec).Exec(t.ctx); err != nil {
		return fmt.Errorf("set record %q: %w", key, MapDBError(err))
	}
	return nil
}

func (t *bunTx) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := t.tx.NewDelete().Model((*RecordModel)(nil)).Where("record_key IN (?)", bun.In(keys)).Exec(t.ctx); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	return nil
}

func (s *BunStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	return WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		return fn(&bunTx{ctx: ctx, tx: tx, now: s.now()})
	})
}

func (s *BunStore) LogAction(ctx context.Context, actor, action, details string) error {
	entry := &AuditLogModel{Timestamp: s.now(), Actor: actor, Action: action, Details: details}
	_, err := s.bun.NewInsert().Model(entry).Exec(ctx)
	return MapDBError(err)
}

func (s *BunStore) AuditLog(ctx context.Context, limit int) ([]model.AuditLogEntry, error) {
	var am []AuditLogModel
	q := s.bun.NewSelect().Model(&am).OrderExpr("timestamp DESC").OrderExpr("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.AuditLogEntry, 0, len(am))
	for _, a := range am {
		out = append(out, auditLogModelToModel(a))
	}
	return out, nil
}

// ExportRecords reads every record and audit entry in one transaction.
func (s *BunStore) ExportRecords(ctx context.Context) (*model.BackupData, error) {
	backup := &model.BackupData{SchemaVersion: BackupSchemaVersion, CreatedAt: s.now()}
	err := WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		var recs []RecordModel
		if err := tx.NewSelect().Model(&recs).OrderExpr("record_key ASC").Scan(ctx); err != nil {
			return err
		}
		for _, r := range recs {
			backup.Records = append(backup.Records, model.Record{Key: r.Key, Value: r.Value})
		}

		var als []AuditLogModel
		if err := tx.NewSelect().Model(&als).OrderExpr("id ASC").Scan(ctx); err != nil {
			return err
		}
		for _, a := range als {
			backup.AuditLog = append(backup.AuditLog, auditLogModelToModel(a))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return backup, nil
}

// ImportRecords performs a full wipe-and-replace in one transaction.
func (s *BunStore) ImportRecords(ctx context.Context, backup *model.BackupData) error {
	if backup == nil {
		return errors.New("import: nil backup")
	}
	if backup.SchemaVersion != BackupSchemaVersion {
		return fmt.Errorf("import: unsupported backup schema version %d", backup.SchemaVersion)
	}
	now := s.now()
	return WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		for _, t := range []string{"records", "audit_log"} {
			if _, err := ExecRaw(ctx, tx, fmt.Sprintf("DELETE FROM %s", t)); err != nil {
				return err
			}
		}
		for _, r := range backup.Records {
			rec := &RecordModel{Key: r.Key, Value: r.Value, UpdatedAt: now}
			if _, err := tx.NewInsert().Model(rec).Exec(ctx); err != nil {
				return fmt.Errorf("import record %q: %w", r.Key, MapDBError(err))
			}
		}
		for _, e := range backup.AuditLog {
			// IDs are reassigned; order is preserved.
			m := &AuditLogModel{Timestamp: e.Timestamp.UTC(), Actor: e.Actor, Action: e.Action, Details: e.Details}
			if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
				return fmt.Errorf("import audit entry: %w", MapDBError(err))
			}
		}
		return nil
	})
}

func (s *BunStore) Close() error {
	return s.bun.Close()
}
