package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"NeuroVault/internal/store"
	"NeuroVault/internal/store/sqlstore"
	"NeuroVault/internal/store/storetest"
	"NeuroVault/internal/testutil"

	"github.com/rs/zerolog"
)

func openSQLite(t *testing.T, path string) *sqlstore.Store {
	t.Helper()
	ctx := context.Background()

	s, err := sqlstore.Open(ctx, sqlstore.SQLite, path, sqlstore.Options{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := sqlstore.NewMigrator(s.DB(), sqlstore.SQLite, zerolog.Nop()).Up(ctx); err != nil {
		s.Close()
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openSQLite(t, filepath.Join(t.TempDir(), "vault.db"))
	})
}

func TestSQLiteInMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openSQLite(t, ":memory:")
	})
}

func TestSQLiteReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vault.db")

	s := openSQLite(t, path)
	err := s.Update(ctx, func(tx store.Tx) error {
		return tx.Put(ctx, store.TierPersistent, "balance/x", []byte("42"))
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	s.Close()

	s = openSQLite(t, path)
	defer s.Close()
	err = s.View(ctx, func(r store.Reader) error {
		v, found, err := r.Get(ctx, store.TierPersistent, "balance/x")
		if err != nil {
			return err
		}
		if !found || string(v) != "42" {
			t.Errorf("got (%q, %v), want 42", v, found)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestMigratorUpIsIdempotentAndDownRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t, filepath.Join(t.TempDir(), "vault.db"))
	defer s.Close()

	m := sqlstore.NewMigrator(s.DB(), sqlstore.SQLite, zerolog.Nop())
	if err := m.Up(ctx); err != nil {
		t.Fatalf("second up: %v", err)
	}

	applied, err := m.Applied(ctx)
	if err != nil {
		t.Fatalf("applied: %v", err)
	}
	if len(applied) != 2 || applied[0] != "000001" || applied[1] != "000002" {
		t.Fatalf("got %v, want [000001 000002]", applied)
	}

	if err := m.Down(ctx); err != nil {
		t.Fatalf("down: %v", err)
	}
	if _, err := s.Cursor(ctx, "nats"); err == nil {
		t.Error("cursor table still present after rolling back 000002")
	}

	if err := m.Up(ctx); err != nil {
		t.Fatalf("re-up: %v", err)
	}
	if _, err := s.Cursor(ctx, "nats"); err != nil {
		t.Errorf("cursor after re-up: %v", err)
	}
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in      string
		want    sqlstore.Dialect
		wantErr bool
	}{
		{"postgres", sqlstore.Postgres, false},
		{"PG", sqlstore.Postgres, false},
		{"sqlite3", sqlstore.SQLite, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		got, err := sqlstore.ParseDialect(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDialect(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDialect(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPostgresStore(t *testing.T) {
	testutil.RequireIntegration(t)

	storetest.Run(t, func(t *testing.T) store.Store {
		db, cleanup := testutil.SetupTestDB(t)
		t.Cleanup(cleanup)
		if err := sqlstore.NewMigrator(db, sqlstore.Postgres, zerolog.Nop()).Up(context.Background()); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		testutil.TruncateVaultTables(t, db)
		return sqlstore.New(db, sqlstore.Postgres)
	})
}
