// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func TestRunMigrationsSqlite(t *testing.T) {
	dsn := "file:test_migrations?mode=memory&cache=shared"
	dbConn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer func() { _ = dbConn.Close() }()
	dbConn.SetMaxOpenConns(1)

	if err := RunMigrations(dbConn, "sqlite"); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}
	// A second run must be a no-op.
	if err := RunMigrations(dbConn, "sqlite"); err != nil {
		t.Fatalf("second RunMigrations failed: %v", err)
	}

	rows, err := dbConn.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		t.Fatalf("query schema_migrations failed: %v", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			t.Fatalf("scan version failed: %v", err)
		}
		versions = append(versions, v)
	}
	want := []string{"000001_create_records", "000002_audit_log_timestamp_index"}
	if len(versions) != len(want) {
		t.Fatalf("expected migrations %v, got %v", want, versions)
	}
	for i := range want {
		if versions[i] != want[i] {
			t.Fatalf("expected migrations %v, got %v", want, versions)
		}
	}

	for _, table := range []string{"records", "audit_log"} {
		var n int
		if err := dbConn.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestRunMigrations_UnknownDialect(t *testing.T) {
	dbConn, err := sql.Open("sqlite", "file:test_migrations_unknown?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer func() { _ = dbConn.Close() }()
	if err := RunMigrations(dbConn, "oracle"); err == nil {
		t.Fatalf("expected error for a dialect without migrations")
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (x INT);\n\n  CREATE INDEX i ON a (x);\n")
	if len(got) != 2 || got[0] != "CREATE TABLE a (x INT)" || got[1] != "CREATE INDEX i ON a (x)" {
		t.Fatalf("unexpected statements: %q", got)
	}
}

func TestNewStoreFromDSN_UnsupportedType(t *testing.T) {
	if _, err := NewStoreFromDSN("oracle", "whatever"); err == nil {
		t.Fatalf("expected error for unsupported database type")
	}
}

func TestRunDBMaintenanceSqlite_Smoke(t *testing.T) {
	dsn := "file:test_maint?mode=memory&cache=shared"
	if err := RunDBMaintenance(context.Background(), "sqlite", dsn); err != nil {
		t.Fatalf("RunDBMaintenance failed: %v", err)
	}
}
