package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tempBlobs(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(filepath.Join(t.TempDir(), "blobs"), "/files/")
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func readAll(t *testing.T, s Provider, key string) string {
	t.Helper()
	rc, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestPutAndGet(t *testing.T) {
	s := tempBlobs(t)
	if err := s.Put(context.Background(), "report.pdf", strings.NewReader("%PDF-1.4")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := readAll(t, s, "report.pdf"); got != "%PDF-1.4" {
		t.Errorf("content = %q", got)
	}
}

func TestPutOverwrites(t *testing.T) {
	s := tempBlobs(t)
	ctx := context.Background()
	_ = s.Put(ctx, "a.txt", strings.NewReader("first"))
	if err := s.Put(ctx, "a.txt", strings.NewReader("second")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := readAll(t, s, "a.txt"); got != "second" {
		t.Errorf("content = %q, want second", got)
	}
}

func TestPutNestedKey(t *testing.T) {
	s := tempBlobs(t)
	if err := s.Put(context.Background(), "a/b/c.txt", strings.NewReader("deep")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := readAll(t, s, "a/b/c.txt"); got != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestDelete(t *testing.T) {
	s := tempBlobs(t)
	ctx := context.Background()
	_ = s.Put(ctx, "del.txt", strings.NewReader("bye"))
	if err := s.Delete(ctx, "del.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "del.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestDelete_Missing(t *testing.T) {
	s := tempBlobs(t)
	if err := s.Delete(context.Background(), "nope.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempBlobs(t)
	for _, key := range []string{"../escape.txt", "../../etc/passwd", "/abs.txt", ""} {
		if err := s.Put(context.Background(), key, strings.NewReader("x")); err == nil {
			t.Errorf("Put(%q) should fail", key)
		}
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(s.root), "escape.txt")); err == nil {
		t.Error("file escaped blob root")
	}
}

func TestPut_NoTempLeftovers(t *testing.T) {
	s := tempBlobs(t)
	_ = s.Put(context.Background(), "clean.txt", strings.NewReader("data"))
	entries, err := os.ReadDir(s.root)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".blob-tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestURLs(t *testing.T) {
	s := tempBlobs(t)
	if got := s.URL("a.png"); got != "/files/a.png" {
		t.Errorf("fs URL = %q", got)
	}
	if got := AzureURL("acct", "notes", "my file.png"); got != "https://acct.blob.core.windows.net/notes/my file.png" {
		t.Errorf("azure URL = %q", got)
	}
	sb := NewSupabase("https://xyz.supabase.co/", "key", "uploads")
	if got := sb.URL("a.png"); got != "https://xyz.supabase.co/storage/v1/object/public/uploads/a.png" {
		t.Errorf("supabase URL = %q", got)
	}
}
