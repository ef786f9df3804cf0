package queue

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestMigrateRecordsSchemaVersion(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(migrations) == 0 || migrations[0].version != 1 {
		t.Fatalf("unexpected migrations: %+v", migrations)
	}
	latest := migrations[len(migrations)-1].version

	path := filepath.Join(t.TempDir(), "jobs.db")
	store, err := OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	version, err := store.schemaVersion(context.Background())
	if err != nil {
		t.Fatalf("schemaVersion: %v", err)
	}
	if version != latest {
		t.Fatalf("schema version = %d, want %d", version, latest)
	}
	if err := store.migrate(context.Background()); err != nil {
		t.Fatalf("second migrate should be a no-op: %v", err)
	}
	_ = store.Close()
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	store, err := OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	if _, err := store.db.Exec("PRAGMA user_version = 999"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = store.Close()

	_, err = OpenPath(path)
	if err == nil || !strings.Contains(err.Error(), "newer than supported") {
		t.Fatalf("expected newer-schema error, got %v", err)
	}
}
