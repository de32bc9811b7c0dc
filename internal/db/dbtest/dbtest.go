// Package dbtest opens migrated in-memory databases for tests.
package dbtest

import (
	"context"
	"testing"

	dbfs "github.com/garnizeh/mar/db"
	"github.com/garnizeh/mar/internal/db"
	"github.com/google/uuid"
)

// New returns a fresh, migrated in-memory SQLite database without seed data.
// The database is closed when the test ends.
func New(t testing.TB) *db.DB {
	t.Helper()
	ctx := context.Background()
	d, err := db.New(ctx, "file:"+uuid.NewString()+"?mode=memory&cache=shared", nil)
	if err != nil {
		t.Fatalf("dbtest: open: %v", err)
	}
	if err := db.Migrate(ctx, d, dbfs.Migrations, nil); err != nil {
		d.Close()
		t.Fatalf("dbtest: migrate: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

// NewSeeded is New plus the embedded seed data.
func NewSeeded(t testing.TB) *db.DB {
	t.Helper()
	d := New(t)
	if err := db.Migrate(context.Background(), d, dbfs.Migrations, dbfs.SeedFiles); err != nil {
		t.Fatalf("dbtest: seed: %v", err)
	}
	return d
}
