package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260301_120000_cameras.up.sql":   {Data: []byte("CREATE TABLE test_cameras (id TEXT PRIMARY KEY);")},
		"20260301_120000_cameras.down.sql": {Data: []byte("DROP TABLE test_cameras;")},
		"20260302_090000_modes.up.sql":     {Data: []byte("CREATE TABLE test_modes (id INTEGER PRIMARY KEY);")},
		"README.md":                        {Data: []byte("not a migration")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&n)
	if err != nil {
		t.Fatalf("checking table %s: %v", name, err)
	}
	return n == 1
}

// TestMigrate verifies migration application.
func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	for _, table := range []string{"test_cameras", "test_modes"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s not created", table)
		}
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("expected 2 applied migrations, got %d", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("expected 0 pending migrations, got %d", len(pending))
	}

	// Running again should be idempotent
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

// TestMigrateDown verifies migration rollback.
func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"20260301_120000_cameras.up.sql":   {Data: []byte("CREATE TABLE test_cameras (id TEXT PRIMARY KEY);")},
		"20260301_120000_cameras.down.sql": {Data: []byte("DROP TABLE test_cameras;")},
	}
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, fsys); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "test_cameras") {
		t.Error("table test_cameras still exists after rollback")
	}

	_, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("expected 1 pending migration after rollback, got %d", len(pending))
	}
}

// TestMigrateDown_NoDownSQL verifies rollback refuses without a down file.
func TestMigrateDown_NoDownSQL(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// Latest migration (modes) has no .down.sql.
	if err := db.MigrateDown(ctx, fsys); err == nil {
		t.Error("MigrateDown() expected error without down SQL")
	}
}

// TestMigrate_FailureRollsBack verifies a broken migration leaves no record.
func TestMigrate_FailureRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"20260301_120000_ok.up.sql":     {Data: []byte("CREATE TABLE ok_table (id INTEGER);")},
		"20260302_120000_broken.up.sql": {Data: []byte("CREATE TABLE oops (;")},
	}
	if err := db.Migrate(ctx, fsys); err == nil {
		t.Fatal("Migrate() expected error for broken SQL")
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 1 {
		t.Errorf("applied=%d pending=%d, want 1 and 1", len(applied), len(pending))
	}
}

// TestParseMigrationFilename verifies filename parsing.
func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		version  string
		name     string
		up       bool
		ok       bool
	}{
		{"20260301_120000_capture_history.up.sql", "20260301_120000", "capture_history", true, true},
		{"20260301_120000_capture_history.down.sql", "20260301_120000", "capture_history", false, true},
		{"20260301_120000.up.sql", "20260301_120000", "20260301_120000", true, true},
		{"capture_history.up.sql", "", "", false, false},
		{"20260301_120000_capture_history.sql", "", "", false, false},
		{"20260301_120000_capture_history.up.txt", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.filename)
			if ok != tt.ok || version != tt.version || name != tt.name || up != tt.up {
				t.Errorf("parseMigrationFilename(%q) = (%q, %q, %v, %v), want (%q, %q, %v, %v)",
					tt.filename, version, name, up, ok, tt.version, tt.name, tt.up, tt.ok)
			}
		})
	}
}

// TestLoadMigrations_DownWithoutUp verifies orphaned down files are rejected.
func TestLoadMigrations_DownWithoutUp(t *testing.T) {
	fsys := fstest.MapFS{
		"20260301_120000_orphan.down.sql": {Data: []byte("DROP TABLE x;")},
	}
	if _, err := LoadMigrations(fsys); err == nil {
		t.Error("LoadMigrations() expected error for down-only migration")
	}
}
