package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	store, err := NewLocalStorage(filepath.Join(t.TempDir(), "objects"))
	if err != nil {
		t.Fatalf("NewLocalStorage failed: %v", err)
	}
	return store
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	local := writeTemp(t, "partition bytes")
	if err := store.Upload(ctx, local, "views/log_entries/s/2026-03-01/a.slp"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	exists, err := store.Exists(ctx, "views/log_entries/s/2026-03-01/a.slp")
	if err != nil || !exists {
		t.Fatalf("Exists = %v, %v", exists, err)
	}

	dest := filepath.Join(t.TempDir(), "out")
	if err := store.Download(ctx, "views/log_entries/s/2026-03-01/a.slp", dest); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != "partition bytes" {
		t.Errorf("content = %q", data)
	}
}

func TestDownloadMissingObject(t *testing.T) {
	store := newLocal(t)

	err := store.Download(context.Background(), "views/nope.slp", filepath.Join(t.TempDir(), "out"))
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("err = %v, want ErrObjectNotFound", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	local := writeTemp(t, "x")
	if err := store.Upload(ctx, local, "views/a.slp"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if err := store.Delete(ctx, "views/a.slp"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	// Second delete of the same object succeeds.
	if err := store.Delete(ctx, "views/a.slp"); err != nil {
		t.Fatalf("repeat Delete failed: %v", err)
	}

	exists, err := store.Exists(ctx, "views/a.slp")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("object survived delete")
	}
}

func TestListObjects(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	for _, key := range []string{
		"views/log_entries/s/a.slp",
		"views/log_entries/s/b.slp",
		"views/thread_spans/t/c.slp",
	} {
		if err := store.Upload(ctx, writeTemp(t, key), key); err != nil {
			t.Fatalf("Upload %s failed: %v", key, err)
		}
	}

	keys, err := store.ListObjects(ctx, "views/log_entries/")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("keys = %v, want 2 under prefix", keys)
	}
}
