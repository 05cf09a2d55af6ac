package synctarget

import (
	"sync"
	"testing"
	"time"

	"github.com/mrsimpson/piddie-sync/pkg/core"
	"github.com/mrsimpson/piddie-sync/pkg/filesystem/memfs"
	"github.com/mrsimpson/piddie-sync/pkg/ignore"
	"github.com/mrsimpson/piddie-sync/pkg/syncerr"
)

func TestInitializePrimaryScansExistingFiles(t *testing.T) {
	target, err := New("targ_test0001primary", core.TargetRolePrimary, nil)
	if err != nil {
		t.Fatal(err)
	}
	fs := memfs.NewWithFiles(map[string]string{"a.txt": "hello"}, 10)
	if err := target.Initialize(fs, core.TargetRolePrimary, InitializeOptions{}); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	state := target.GetState(0)
	if state.Status != core.StatusIdle {
		t.Fatalf("expected StatusIdle after initialize, got %s", state.Status)
	}
}

func TestInitializeSecondaryRejectsDirtyRoot(t *testing.T) {
	target, err := New("", core.TargetRoleSecondary, nil)
	if err != nil {
		t.Fatal(err)
	}
	fs := memfs.NewWithFiles(map[string]string{"a.txt": "hello"}, 10)
	err = target.Initialize(fs, core.TargetRoleSecondary, InitializeOptions{})
	if err == nil {
		t.Fatal("expected error initializing secondary with non-empty root")
	}
	if target.GetState(0).Status != core.StatusError {
		t.Fatalf("expected StatusError, got %s", target.GetState(0).Status)
	}
}

func TestApplyFileChangeCreateThenSyncComplete(t *testing.T) {
	target, err := New("", core.TargetRolePrimary, nil)
	if err != nil {
		t.Fatal(err)
	}
	fs := memfs.New()
	if err := target.Initialize(fs, core.TargetRolePrimary, InitializeOptions{}); err != nil {
		t.Fatal(err)
	}

	if err := target.NotifyIncomingChanges([]core.Path{core.NormalizePath("incoming.txt")}); err != nil {
		t.Fatalf("notifyIncomingChanges failed: %v", err)
	}
	if target.GetState(0).Status != core.StatusCollecting {
		t.Fatalf("expected StatusCollecting, got %s", target.GetState(0).Status)
	}

	path := core.NormalizePath("incoming.txt")
	metadata := core.NewFileMetadata(path, []byte("payload"), 42)
	change := core.FileChange{
		FileChangeInfo: core.FileChangeInfo{
			Path:     path,
			Type:     core.ChangeCreate,
			Metadata: &metadata,
		},
		Stream: core.NewContentStream(metadata, []byte("payload")),
	}
	conflict, err := target.ApplyFileChange(change)
	if err != nil {
		t.Fatalf("applyFileChange failed: %v", err)
	}
	if conflict != nil {
		t.Fatalf("expected no conflict for a new path, got %+v", conflict)
	}
	if target.GetState(0).Status != core.StatusSyncing {
		t.Fatalf("expected StatusSyncing, got %s", target.GetState(0).Status)
	}

	if err := target.SyncComplete(); err != nil {
		t.Fatalf("syncComplete failed: %v", err)
	}
	if target.GetState(0).Status != core.StatusIdle {
		t.Fatalf("expected StatusIdle, got %s", target.GetState(0).Status)
	}

	content, err := fs.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "payload" {
		t.Fatalf("unexpected content: %s", content)
	}
}

// TestNotifyIncomingChangesLocksOutLocalWriters covers spec.md §8's
// universal invariant 3, "lock honor": for any period during which
// notifyIncomingChanges has fired and syncComplete has not, a non-sync
// writer receives LOCKED while reads keep succeeding.
func TestNotifyIncomingChangesLocksOutLocalWriters(t *testing.T) {
	target, err := New("target-a", core.TargetRolePrimary, nil)
	if err != nil {
		t.Fatal(err)
	}
	fs := memfs.NewWithFiles(map[string]string{"a.txt": "hello"}, 1)
	if err := target.Initialize(fs, core.TargetRolePrimary, InitializeOptions{}); err != nil {
		t.Fatal(err)
	}

	path := core.NormalizePath("incoming.txt")
	if err := target.NotifyIncomingChanges([]core.Path{path}); err != nil {
		t.Fatalf("notifyIncomingChanges failed: %v", err)
	}

	if err := fs.WriteFile(core.NormalizePath("a.txt"), []byte("local-edit"), 2, false, "local-writer"); syncerr.KindOf(err) != syncerr.KindLocked {
		t.Fatalf("expected a local writer to receive KindLocked, got %v", err)
	}
	if _, err := fs.ReadFile(core.NormalizePath("a.txt")); err != nil {
		t.Fatalf("expected reads to keep succeeding while locked: %v", err)
	}

	metadata := core.NewFileMetadata(path, []byte("payload"), 3)
	change := core.FileChange{
		FileChangeInfo: core.FileChangeInfo{Path: path, Type: core.ChangeCreate, Metadata: &metadata},
		Stream:         core.NewContentStream(metadata, []byte("payload")),
	}
	if _, err := target.ApplyFileChange(change); err != nil {
		t.Fatalf("applyFileChange failed: %v", err)
	}
	if err := target.SyncComplete(); err != nil {
		t.Fatalf("syncComplete failed: %v", err)
	}

	if err := fs.WriteFile(core.NormalizePath("a.txt"), []byte("local-edit"), 4, false, "local-writer"); err != nil {
		t.Fatalf("expected a local writer to succeed once the lock is released: %v", err)
	}
}

// TestApplyFileChangeReappliedIsNoOp covers spec.md §8's idempotence
// property: applying the same FileChange twice reports no conflict and no
// error the second time, since the path's content hash already matches.
func TestApplyFileChangeReappliedIsNoOp(t *testing.T) {
	target, err := New("", core.TargetRolePrimary, nil)
	if err != nil {
		t.Fatal(err)
	}
	fs := memfs.New()
	if err := target.Initialize(fs, core.TargetRolePrimary, InitializeOptions{}); err != nil {
		t.Fatal(err)
	}

	path := core.NormalizePath("a.txt")
	metadata := core.NewFileMetadata(path, []byte("payload"), 42)
	changeFor := func() core.FileChange {
		return core.FileChange{
			FileChangeInfo: core.FileChangeInfo{Path: path, Type: core.ChangeCreate, Metadata: &metadata},
			Stream:         core.NewContentStream(metadata, []byte("payload")),
		}
	}

	if err := target.NotifyIncomingChanges([]core.Path{path}); err != nil {
		t.Fatal(err)
	}
	if conflict, err := target.ApplyFileChange(changeFor()); err != nil || conflict != nil {
		t.Fatalf("expected first apply to succeed with no conflict, got conflict=%+v err=%v", conflict, err)
	}
	if err := target.SyncComplete(); err != nil {
		t.Fatal(err)
	}

	if err := target.NotifyIncomingChanges([]core.Path{path}); err != nil {
		t.Fatal(err)
	}
	conflict, err := target.ApplyFileChange(changeFor())
	if err != nil {
		t.Fatalf("expected reapplying an identical change to be a no-op, got err=%v", err)
	}
	if conflict != nil {
		t.Fatalf("expected reapplying an identical change to report no conflict, got %+v", conflict)
	}
	if err := target.SyncComplete(); err != nil {
		t.Fatal(err)
	}

	content, err := fs.ReadFile(path)
	if err != nil || string(content) != "payload" {
		t.Fatalf("expected content unchanged, got %q, err=%v", content, err)
	}
}

func TestApplyFileChangeHashMismatchFailsTarget(t *testing.T) {
	target, err := New("", core.TargetRolePrimary, nil)
	if err != nil {
		t.Fatal(err)
	}
	fs := memfs.New()
	if err := target.Initialize(fs, core.TargetRolePrimary, InitializeOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := target.NotifyIncomingChanges([]core.Path{core.NormalizePath("bad.txt")}); err != nil {
		t.Fatal(err)
	}

	path := core.NormalizePath("bad.txt")
	metadata := core.NewFileMetadata(path, []byte("real content"), 1)
	metadata.Hash = "not-a-real-hash"
	change := core.FileChange{
		FileChangeInfo: core.FileChangeInfo{Path: path, Type: core.ChangeCreate, Metadata: &metadata},
		Stream:         core.NewContentStream(metadata, []byte("real content")),
	}
	if _, err := target.ApplyFileChange(change); err == nil {
		t.Fatal("expected hash mismatch error")
	}
	if target.GetState(0).Status != core.StatusError {
		t.Fatalf("expected StatusError after failed apply, got %s", target.GetState(0).Status)
	}
}

func TestApplyFileChangeConflictOnExistingDivergentPath(t *testing.T) {
	target, err := New("", core.TargetRoleSecondary, nil)
	if err != nil {
		t.Fatal(err)
	}
	fs := memfs.New()
	if err := target.Initialize(fs, core.TargetRoleSecondary, InitializeOptions{SkipFileScan: true}); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteFile(core.NormalizePath("c.txt"), []byte("old-secondary-content"), 100, false, ""); err != nil {
		t.Fatal(err)
	}

	path := core.NormalizePath("c.txt")
	if err := target.NotifyIncomingChanges([]core.Path{path}); err != nil {
		t.Fatal(err)
	}
	metadata := core.NewFileMetadata(path, []byte("PP"), 2000)
	change := core.FileChange{
		FileChangeInfo: core.FileChangeInfo{Path: path, Type: core.ChangeModify, Metadata: &metadata, SourceTarget: "primary"},
		Stream:         core.NewContentStream(metadata, []byte("PP")),
	}

	conflict, err := target.ApplyFileChange(change)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conflict == nil {
		t.Fatal("expected a conflict for a path with diverging stored content")
	}
	content, err := fs.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "old-secondary-content" {
		t.Fatalf("conflict should not have written, got %q", content)
	}

	change.Stream = core.NewContentStream(metadata, []byte("PP"))
	if err := target.ForceApplyFileChange(change); err != nil {
		t.Fatalf("force apply failed: %v", err)
	}
	content, err = fs.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "PP" {
		t.Fatalf("expected forced overwrite to win, got %q", content)
	}
}

func TestRecoverClearResetsSnapshotAndStatus(t *testing.T) {
	target, err := New("", core.TargetRolePrimary, nil)
	if err != nil {
		t.Fatal(err)
	}
	fs := memfs.New()
	if err := target.Initialize(fs, core.TargetRolePrimary, InitializeOptions{}); err != nil {
		t.Fatal(err)
	}
	target.machine.fail(nil)
	if err := target.Recover(RecoveryClear); err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if target.GetState(0).Status != core.StatusIdle {
		t.Fatalf("expected StatusIdle after recovery, got %s", target.GetState(0).Status)
	}
}

func TestRecoverFromPrimaryInvokesCallback(t *testing.T) {
	var called bool
	target, err := New("", core.TargetRoleSecondary, nil)
	if err != nil {
		t.Fatal(err)
	}
	fs := memfs.New()
	if err := target.Initialize(fs, core.TargetRoleSecondary, InitializeOptions{
		ResolveFromPrimary: func() error {
			called = true
			return nil
		},
	}); err != nil {
		t.Fatal(err)
	}
	target.machine.fail(nil)
	if err := target.Recover(RecoveryFromPrimary); err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if !called {
		t.Fatal("expected ResolveFromPrimary to be invoked")
	}
}

func TestWatchDetectsLocalCreateAndDebounces(t *testing.T) {
	target, err := New("", core.TargetRolePrimary, nil)
	if err != nil {
		t.Fatal(err)
	}
	target.SetPollInterval(10 * time.Millisecond)
	target.SetDebounceWindow(20 * time.Millisecond)

	fs := memfs.New()
	if err := target.Initialize(fs, core.TargetRolePrimary, InitializeOptions{}); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var batches [][]core.FileChangeInfo
	done := make(chan struct{}, 1)
	if err := target.Watch(func(batch []core.FileChangeInfo) {
		mu.Lock()
		batches = append(batches, batch)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	}, WatchOptions{}); err != nil {
		t.Fatal(err)
	}
	defer target.Unwatch()

	if err := fs.WriteFile(core.NormalizePath("new.txt"), []byte("x"), 1, false, ""); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher to detect local change")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(batches) == 0 {
		t.Fatal("expected at least one batch")
	}
	found := false
	for _, c := range batches[0] {
		if c.Path.String() == "new.txt" && c.Type == core.ChangeCreate {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected create change for new.txt, got %+v", batches[0])
	}
}

// TestWatchNeverEmitsIgnoredPath covers spec scenario 6: a path matched by
// the ignore service is excluded from the scan snapshot entirely, so it
// never appears in a detected change batch, even when it is created
// alongside a non-ignored file whose create does produce one.
func TestWatchNeverEmitsIgnoredPath(t *testing.T) {
	target, err := New("", core.TargetRolePrimary, nil)
	if err != nil {
		t.Fatal(err)
	}
	target.SetPollInterval(10 * time.Millisecond)
	target.SetDebounceWindow(20 * time.Millisecond)
	target.SetIgnoreService(ignore.NewPatternService([]string{"*.tmp"}))

	fs := memfs.New()
	if err := target.Initialize(fs, core.TargetRolePrimary, InitializeOptions{}); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var batches [][]core.FileChangeInfo
	done := make(chan struct{}, 1)
	if err := target.Watch(func(batch []core.FileChangeInfo) {
		mu.Lock()
		batches = append(batches, batch)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	}, WatchOptions{}); err != nil {
		t.Fatal(err)
	}
	defer target.Unwatch()

	if err := fs.WriteFile(core.NormalizePath("a.tmp"), []byte("scratch"), 1, false, ""); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteFile(core.NormalizePath("keep.txt"), []byte("x"), 1, false, ""); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher to detect local change")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(batches) == 0 {
		t.Fatal("expected at least one batch")
	}
	for _, b := range batches {
		for _, c := range b {
			if c.Path.String() == "a.tmp" {
				t.Fatalf("expected a.tmp to be filtered by the ignore service, got %+v", c)
			}
		}
	}
}
