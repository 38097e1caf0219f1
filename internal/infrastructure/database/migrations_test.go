package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func useMigrations(t *testing.T, fsys fstest.MapFS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	MigrationsFS = fsys
	MigrationsDir = "."
}

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260301_090000_hardware.up.sql":   {Data: []byte("CREATE TABLE hw (id INTEGER PRIMARY KEY);")},
		"20260301_090000_hardware.down.sql": {Data: []byte("DROP TABLE hw;")},
		"20260302_090000_devices.up.sql":    {Data: []byte("CREATE TABLE dev (idx INTEGER PRIMARY KEY);")},
		"20260302_090000_devices.down.sql":  {Data: []byte("DROP TABLE dev;")},
		"README.md":                         {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("sqlite_master query: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrations())
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "hw") || !tableExists(t, db, "dev") {
		t.Fatal("expected both tables after Migrate()")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 2/0", len(applied), len(pending))
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_FailureKeepsEarlierMigrations(t *testing.T) {
	fsys := testMigrations()
	fsys["20260303_090000_broken.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE nonsense (")}
	useMigrations(t, fsys)
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}
	if !tableExists(t, db, "dev") {
		t.Error("migrations before the broken one should stay applied")
	}

	_, pending, err := db.GetMigrationStatus(context.Background())
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "broken" {
		t.Errorf("pending = %+v, want only the broken migration", pending)
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, testMigrations())
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "dev") {
		t.Error("latest migration should be rolled back")
	}
	if !tableExists(t, db, "hw") {
		t.Error("earlier migration should remain")
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	origFS := MigrationsFS
	t.Cleanup(func() { MigrationsFS = origFS })
	MigrationsFS = nil

	db := openTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
	if err := db.MigrateDown(context.Background()); err != nil {
		t.Fatalf("MigrateDown() with nothing applied error = %v", err)
	}
}

func TestLoadMigrations_DownWithoutUp(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20260301_090000_orphan.down.sql": {Data: []byte("DROP TABLE x;")},
	})
	if _, err := loadMigrations(); err == nil {
		t.Error("loadMigrations() expected error for orphan down file")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantUp      bool
		wantOK      bool
	}{
		{"up file", "20260301_090000_devices.up.sql", "20260301_090000", true, true},
		{"down file", "20260301_090000_devices.down.sql", "20260301_090000", false, true},
		{"no direction", "20260301_090000_devices.sql", "", false, false},
		{"not sql", "20260301_090000_devices.up.txt", "", false, false},
		{"no version", "devices.up.sql", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if version != tt.wantVersion || isUp != tt.wantUp || ok != tt.wantOK {
				t.Errorf("parseMigrationFilename(%q) = (%q, %v, %v), want (%q, %v, %v)",
					tt.filename, version, isUp, ok, tt.wantVersion, tt.wantUp, tt.wantOK)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := map[string]string{
		"20260301_090000_initial_schema.up.sql": "initial_schema",
		"20260301_090000_devices.down.sql":      "devices",
		"weird.sql":                             "weird",
	}
	for in, want := range tests {
		if got := extractMigrationName(in); got != want {
			t.Errorf("extractMigrationName(%q) = %q, want %q", in, got, want)
		}
	}
}
