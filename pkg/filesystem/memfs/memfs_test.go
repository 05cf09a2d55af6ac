package memfs

import (
	"testing"

	"github.com/mrsimpson/piddie-sync/pkg/core"
	"github.com/mrsimpson/piddie-sync/pkg/filesystem"
	"github.com/mrsimpson/piddie-sync/pkg/syncerr"
)

func TestWriteReadRoundTrip(t *testing.T) {
	fs := New()
	if err := fs.Initialize(); err != nil {
		t.Fatal(err)
	}
	path := core.NormalizePath("a.txt")
	if err := fs.WriteFile(path, []byte("hello"), 1000, true, "owner"); err != nil {
		t.Fatal(err)
	}
	content, err := fs.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "hello" {
		t.Fatalf("unexpected content: %s", content)
	}
	metadata, err := fs.GetMetadata(path)
	if err != nil {
		t.Fatal(err)
	}
	if metadata.LastModified != 1000 {
		t.Fatalf("expected lastModified preserved, got %d", metadata.LastModified)
	}
}

func TestReadMissingFileFails(t *testing.T) {
	fs := New()
	_, err := fs.ReadFile(core.NormalizePath("missing.txt"))
	if syncerr.KindOf(err) != syncerr.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestWriteBlockedByExternalLock(t *testing.T) {
	fs := New()
	if err := fs.Lock(0, "maintenance", core.LockModeExternal, "owner-a"); err != nil {
		t.Fatal(err)
	}
	err := fs.WriteFile(core.NormalizePath("a.txt"), []byte("x"), 1, false, "owner-b")
	if syncerr.KindOf(err) != syncerr.KindLocked {
		t.Fatalf("expected KindLocked, got %v", err)
	}
}

func TestSyncWriteBypassesLock(t *testing.T) {
	fs := New()
	if err := fs.Lock(0, "sync in progress", core.LockModeSync, "owner-a"); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteFile(core.NormalizePath("a.txt"), []byte("x"), 1, true, "owner-a"); err != nil {
		t.Fatalf("sync write should bypass lock: %v", err)
	}
}

func TestNonSyncWriteBlockedBySyncLock(t *testing.T) {
	fs := New()
	if err := fs.Lock(0, "sync in progress", core.LockModeSync, "owner-a"); err != nil {
		t.Fatal(err)
	}
	// Even the lock's own owner can't write directly while a sync-mode lock
	// is held; only a call tagged isSyncOperation may.
	err := fs.WriteFile(core.NormalizePath("a.txt"), []byte("x"), 1, false, "owner-a")
	if syncerr.KindOf(err) != syncerr.KindLocked {
		t.Fatalf("expected KindLocked, got %v", err)
	}
}

func TestReadsAlwaysPermittedWhileLocked(t *testing.T) {
	fs := NewWithFiles(map[string]string{"a.txt": "hello"}, 5)
	if err := fs.Lock(0, "sync", core.LockModeSync, "owner"); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.ReadFile(core.NormalizePath("a.txt")); err != nil {
		t.Fatalf("read should succeed while locked: %v", err)
	}
	if _, err := fs.ListDirectory(core.Root); err != nil {
		t.Fatalf("listDirectory should succeed while locked: %v", err)
	}
}

func TestDeleteNonEmptyDirectoryRequiresRecursive(t *testing.T) {
	fs := NewWithFiles(map[string]string{"dir/a.txt": "x"}, 1)
	err := fs.DeleteItem(core.NormalizePath("dir"), filesystem.DeleteItemOptions{}, true, "")
	if syncerr.KindOf(err) != syncerr.KindInvalidOperation {
		t.Fatalf("expected KindInvalidOperation, got %v", err)
	}
	if err := fs.DeleteItem(core.NormalizePath("dir"), filesystem.DeleteItemOptions{Recursive: true}, true, ""); err != nil {
		t.Fatalf("recursive delete should succeed: %v", err)
	}
	if fs.Exists(core.NormalizePath("dir/a.txt")) {
		t.Fatal("expected descendant to be removed")
	}
}

func TestCreateDirectoryAlreadyExists(t *testing.T) {
	fs := New()
	path := core.NormalizePath("dir")
	if err := fs.CreateDirectory(path, filesystem.CreateDirectoryOptions{}); err != nil {
		t.Fatal(err)
	}
	err := fs.CreateDirectory(path, filesystem.CreateDirectoryOptions{})
	if syncerr.KindOf(err) != syncerr.KindAlreadyExists {
		t.Fatalf("expected KindAlreadyExists, got %v", err)
	}
	if err := fs.CreateDirectory(path, filesystem.CreateDirectoryOptions{Recursive: true}); err != nil {
		t.Fatalf("recursive create on existing directory should succeed silently: %v", err)
	}
}

var _ filesystem.FileSystem = (*FileSystem)(nil)
