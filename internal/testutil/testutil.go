// Package testutil provides shared test helpers for stores and blob providers.
package testutil

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/starford/blobnotes/internal/notedb"
	"github.com/starford/blobnotes/internal/storage"
)

// ErrInjected is returned by FlakyBlobs when a failure is switched on.
var ErrInjected = errors.New("injected failure")

// TestDB creates a temporary SQLite note store that is automatically cleaned up.
func TestDB(t *testing.T) *notedb.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "blobnotes-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := notedb.Open(context.Background(), notedb.Options{
		Driver: notedb.DriverSQLite,
		DSN:    dbFile.Name(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestBlobs creates a temporary file-system blob provider.
func TestBlobs(t *testing.T) *storage.FS {
	t.Helper()
	fs, err := storage.NewFS(filepath.Join(t.TempDir(), "blobs"), "/files")
	if err != nil {
		t.Fatal(err)
	}
	return fs
}

// FlakyBlobs wraps a Provider and fails selected operations on demand.
type FlakyBlobs struct {
	storage.Provider

	mu         sync.Mutex
	failPut    bool
	failDelete bool
	deletes    []string
}

// NewFlakyBlobs wraps p.
func NewFlakyBlobs(p storage.Provider) *FlakyBlobs {
	return &FlakyBlobs{Provider: p}
}

// FailPut toggles Put failures.
func (f *FlakyBlobs) FailPut(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPut = on
}

// FailDelete toggles Delete failures.
func (f *FlakyBlobs) FailDelete(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failDelete = on
}

// Deletes returns every key Delete was called with.
func (f *FlakyBlobs) Deletes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

// Put fails with ErrInjected when switched on.
func (f *FlakyBlobs) Put(ctx context.Context, key string, r io.Reader) error {
	f.mu.Lock()
	fail := f.failPut
	f.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return f.Provider.Put(ctx, key, r)
}

// Delete records the key and fails with ErrInjected when switched on.
func (f *FlakyBlobs) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	f.deletes = append(f.deletes, key)
	fail := f.failDelete
	f.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return f.Provider.Delete(ctx, key)
}

// Exists reports whether key can be opened on p.
func Exists(t *testing.T, p storage.Provider, key string) bool {
	t.Helper()
	rc, err := p.Get(context.Background(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false
		}
		t.Fatalf("Get(%q): %v", key, err)
	}
	rc.Close()
	return true
}

// ReadBlob returns the full content stored under key.
func ReadBlob(t *testing.T, p storage.Provider, key string) []byte {
	t.Helper()
	rc, err := p.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
