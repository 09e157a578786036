// Package testutil provides shared test helpers for setting up contact
// directories and databases.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/cardsync/internal/credstore"
	"github.com/starford/cardsync/internal/index"
	"github.com/starford/cardsync/internal/storage"
)

func tempDBFile(t *testing.T) string {
	t.Helper()
	dbFile, err := os.CreateTemp("", "cardsync-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })
	return dbFile.Name()
}

// TestIndex creates a temporary contact index that is automatically cleaned up.
func TestIndex(t *testing.T) *index.DB {
	t.Helper()
	db, err := index.Open(tempDBFile(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestCredStore creates a temporary credential store seeded with defaults.
func TestCredStore(t *testing.T, defaults credstore.Defaults) *credstore.DB {
	t.Helper()
	db, err := credstore.Open(tempDBFile(t), defaults)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestContacts creates a temporary contacts directory with a storage.FS.
func TestContacts(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}
