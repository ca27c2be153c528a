// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/toeirei/keymaster-chatops/internal/model"
)

func TestUpdate_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.Update(ctx, func(tx Tx) error {
		if err := tx.Set("u1", "alice"); err != nil {
			return err
		}
		if err := tx.Set("account_name_alice", "alice"); err != nil {
			return err
		}
		// Set replaces an existing value.
		return tx.Set("u1", "alice2")
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	v, ok, err := s.Get(ctx, "u1")
	if err != nil || !ok || v != "alice2" {
		t.Fatalf("Get(u1) = %q, %v, %v", v, ok, err)
	}
	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	got, err := s.GetMany(ctx, "u1", "account_name_alice", "missing")
	if err != nil {
		t.Fatalf("GetMany failed: %v", err)
	}
	if len(got) != 2 || got["account_name_alice"] != "alice" {
		t.Fatalf("unexpected GetMany result: %v", got)
	}

	if err := s.Update(ctx, func(tx Tx) error { return tx.Delete("u1", "account_name_alice", "missing") }); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	keys, err := s.Keys(ctx, "")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected empty store, got %v", keys)
	}
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx Tx) error {
		if err := tx.Set("u1", "alice"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}
	if _, ok, _ := s.Get(ctx, "u1"); ok {
		t.Fatalf("write from failed transaction was committed")
	}
}

func TestUpdate_ReadsOwnWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.Update(ctx, func(tx Tx) error {
		if err := tx.Set("k", "v"); err != nil {
			return err
		}
		v, ok, err := tx.Get("k")
		if err != nil || !ok || v != "v" {
			t.Fatalf("tx.Get = %q, %v, %v", v, ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func TestKeys_PrefixIsLiteral(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	err := s.Update(ctx, func(tx Tx) error {
		for _, k := range []string{"account_name_b", "account_name_a", "accountXname_c", "u%1", "u_2", "ux"} {
			if err := tx.Set(k, "x"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	keys, err := s.Keys(ctx, "account_name_")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "account_name_a" || keys[1] != "account_name_b" {
		t.Fatalf("unexpected keys: %v", keys)
	}

	keys, err = s.Keys(ctx, "u%")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "u%1" {
		t.Fatalf("'%%' must match literally, got %v", keys)
	}
}

func TestAuditLog_MostRecentFirst(t *testing.T) {
	ctx := context.Background()
	clk := testclock.NewClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	s := newTestStore(t, WithClock(clk))

	for _, action := range []string{"BIND", "APPEND_KEY", "UNBIND"} {
		if err := s.LogAction(ctx, "u1", action, "account: alice"); err != nil {
			t.Fatalf("LogAction failed: %v", err)
		}
		clk.Advance(time.Minute)
	}

	all, err := s.AuditLog(ctx, 0)
	if err != nil {
		t.Fatalf("AuditLog failed: %v", err)
	}
	if len(all) != 3 || all[0].Action != "UNBIND" || all[2].Action != "BIND" {
		t.Fatalf("unexpected audit order: %+v", all)
	}
	if all[2].Actor != "u1" || !all[2].Timestamp.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("unexpected first entry: %+v", all[2])
	}

	two, err := s.AuditLog(ctx, 2)
	if err != nil {
		t.Fatalf("AuditLog failed: %v", err)
	}
	if len(two) != 2 || two[0].Action != "UNBIND" {
		t.Fatalf("unexpected limited audit log: %+v", two)
	}
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)
	err := src.Update(ctx, func(tx Tx) error {
		if err := tx.Set("u1", "alice"); err != nil {
			return err
		}
		if err := tx.Set("account_name_alice", "alice"); err != nil {
			return err
		}
		return tx.Set("account_name_alice_pk", "ssh-rsa AAAA a:ssh-rsa BBBB b")
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := src.LogAction(ctx, "u1", "BIND", "account: alice"); err != nil {
		t.Fatalf("LogAction failed: %v", err)
	}

	exported, err := src.ExportRecords(ctx)
	if err != nil {
		t.Fatalf("ExportRecords failed: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteBackup(&buf, exported); err != nil {
		t.Fatalf("WriteBackup failed: %v", err)
	}
	restored, err := ReadBackup(&buf)
	if err != nil {
		t.Fatalf("ReadBackup failed: %v", err)
	}

	dst := newTestStore(t)
	// Pre-existing content is wiped by the import.
	if err := dst.Update(ctx, func(tx Tx) error { return tx.Set("stale", "x") }); err != nil {
		t.Fatalf("seed dst failed: %v", err)
	}
	if err := dst.ImportRecords(ctx, restored); err != nil {
		t.Fatalf("ImportRecords failed: %v", err)
	}

	keys, err := dst.Keys(ctx, "")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 restored keys, got %v", keys)
	}
	if v, _, _ := dst.Get(ctx, "account_name_alice_pk"); v != "ssh-rsa AAAA a:ssh-rsa BBBB b" {
		t.Fatalf("unexpected restored key record: %q", v)
	}
	audit, err := dst.AuditLog(ctx, 0)
	if err != nil || len(audit) != 1 || audit[0].Action != "BIND" {
		t.Fatalf("unexpected restored audit log: %+v, %v", audit, err)
	}
}

func TestImportRecords_RejectsUnknownSchema(t *testing.T) {
	s := newTestStore(t)
	err := s.ImportRecords(context.Background(), &model.BackupData{SchemaVersion: 99})
	if err == nil {
		t.Fatalf("expected schema version error")
	}
}

func TestReadBackup_Garbage(t *testing.T) {
	if _, err := ReadBackup(bytes.NewReader([]byte("not zstd"))); err == nil {
		t.Fatalf("expected decode error")
	}
}
