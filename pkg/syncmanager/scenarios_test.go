package syncmanager

import (
	"testing"

	"github.com/mrsimpson/piddie-sync/pkg/core"
	"github.com/mrsimpson/piddie-sync/pkg/filesystem/memfs"
	"github.com/mrsimpson/piddie-sync/pkg/synctarget"
)

// TestScenarioFreshPrimaryEmptySecondary covers spec scenario 1: a primary
// with one pre-existing file, registered against an empty secondary,
// converges via a full resync with the original modification time intact.
func TestScenarioFreshPrimaryEmptySecondary(t *testing.T) {
	m, _, secondaries := newRegisteredManager(t, map[string]string{"a.txt": "hello"}, "sec-1")
	secondary := secondaries["sec-1"]

	if err := m.FullSyncFromPrimaryToTarget("sec-1"); err != nil {
		t.Fatalf("full sync failed: %v", err)
	}

	metadata, err := secondary.GetMetadata(core.NormalizePath("a.txt"))
	if err != nil {
		t.Fatalf("expected a.txt on secondary: %v", err)
	}
	if metadata.LastModified != 10 {
		t.Fatalf("expected preserved mtime 10, got %d", metadata.LastModified)
	}
}

// TestScenarioConcurrentIndependentEdits covers spec scenario 2: a
// primary-sourced change to one path and a secondary-sourced change to a
// distinct path both converge onto every target, each with its originating
// modification time intact.
func TestScenarioConcurrentIndependentEdits(t *testing.T) {
	m, primary, secondaries := newRegisteredManager(t, nil, "sec-1")
	secondary := secondaries["sec-1"]

	primaryEntry := m.entryFor(primary.ID)
	secondaryEntry := m.entryFor("sec-1")

	xPath := core.NormalizePath("x")
	xMeta := core.NewFileMetadata(xPath, []byte("P"), 1005)
	if err := primaryEntry.target.NotifyIncomingChanges([]core.Path{xPath}); err != nil {
		t.Fatal(err)
	}
	if err := primaryEntry.target.ForceApplyFileChange(core.FileChange{
		FileChangeInfo: core.FileChangeInfo{Path: xPath, Type: core.ChangeCreate, Metadata: &xMeta},
		Stream:         core.NewContentStream(xMeta, []byte("P")),
	}); err != nil {
		t.Fatal(err)
	}
	if err := primaryEntry.target.SyncComplete(); err != nil {
		t.Fatal(err)
	}

	yPath := core.NormalizePath("y")
	yMeta := core.NewFileMetadata(yPath, []byte("S"), 1006)
	if err := secondaryEntry.target.NotifyIncomingChanges([]core.Path{yPath}); err != nil {
		t.Fatal(err)
	}
	if err := secondaryEntry.target.ForceApplyFileChange(core.FileChange{
		FileChangeInfo: core.FileChangeInfo{Path: yPath, Type: core.ChangeCreate, Metadata: &yMeta},
		Stream:         core.NewContentStream(yMeta, []byte("S")),
	}); err != nil {
		t.Fatal(err)
	}
	if err := secondaryEntry.target.SyncComplete(); err != nil {
		t.Fatal(err)
	}

	m.HandleTargetChanges(primary.ID, []core.FileChangeInfo{{Path: xPath, Type: core.ChangeCreate, Metadata: &xMeta, SourceTarget: primary.ID}})
	waitForIdle(t, m, "sec-1")
	m.HandleTargetChanges("sec-1", []core.FileChangeInfo{{Path: yPath, Type: core.ChangeCreate, Metadata: &yMeta, SourceTarget: "sec-1"}})
	waitForIdle(t, m, primary.ID)

	for _, target := range []*synctarget.Target{primary, secondary} {
		xGot, err := target.GetMetadata(xPath)
		if err != nil || xGot.LastModified != 1005 {
			t.Fatalf("expected %s to carry x with mtime 1005, got %+v, err=%v", target.ID, xGot, err)
		}
		yGot, err := target.GetMetadata(yPath)
		if err != nil || yGot.LastModified != 1006 {
			t.Fatalf("expected %s to carry y with mtime 1006, got %+v, err=%v", target.ID, yGot, err)
		}
	}
}

// TestScenarioPeerTemporarilyFailingQueuesThenDrains covers spec scenario 4:
// a peer apply failure leaves the change queued in pendingByTarget, and a
// subsequent successful routing cycle drains it.
func TestScenarioPeerTemporarilyFailingQueuesThenDrains(t *testing.T) {
	m, primary, secondaries := newRegisteredManager(t, nil, "sec-1")
	secondary := secondaries["sec-1"]

	path := core.NormalizePath("f")
	goodMeta := core.NewFileMetadata(path, []byte("content"), 1)
	badMeta := goodMeta
	badMeta.Hash = "deliberately-wrong-hash"

	// A hash mismatch drives the peer's applyFileChange to fail, which
	// applyBatchToPeer reports back as an unapplied suffix to be queued.
	m.HandleTargetChanges(primary.ID, []core.FileChangeInfo{{
		Path: path, Type: core.ChangeCreate, Metadata: &badMeta, SourceTarget: primary.ID,
	}})

	deadline := false
	for i := 0; i < 200 && !deadline; i++ {
		if sync := m.GetPendingSync(); sync != nil && len(sync.PendingByTarget["sec-1"]) == 1 {
			deadline = true
			break
		}
	}
	sync := m.GetPendingSync()
	if sync == nil || len(sync.PendingByTarget["sec-1"]) != 1 {
		t.Fatalf("expected exactly one pending change for sec-1, got %+v", sync)
	}
	if sync.PendingByTarget["sec-1"][0].Path != path {
		t.Fatalf("expected pending change for %s, got %+v", path, sync.PendingByTarget["sec-1"][0])
	}

	// The secondary's failed apply drove it into StatusError; recover it so
	// the next cycle can succeed, then retry with the correct hash.
	secEntry := m.entryFor("sec-1")
	if err := secEntry.target.Recover(synctarget.RecoveryClear); err != nil {
		t.Fatalf("recover failed: %v", err)
	}

	m.HandleTargetChanges(primary.ID, []core.FileChangeInfo{{
		Path: path, Type: core.ChangeCreate, Metadata: &goodMeta, SourceTarget: primary.ID,
	}})
	waitForIdle(t, m, "sec-1")

	content, err := secondary.GetFileContent(path)
	if err != nil {
		t.Fatalf("expected %s to be present on secondary after retry: %v", path, err)
	}
	content.Close()
}

// TestScenarioSecondaryDirtyRootRecoversFromPrimary covers spec scenario 5:
// a secondary that fails initialization against a non-empty root recovers
// via ReinitializeTarget into a full mirror of the primary, with its
// pre-existing content replaced.
func TestScenarioSecondaryDirtyRootRecoversFromPrimary(t *testing.T) {
	m, _, _ := newRegisteredManager(t, map[string]string{"new.txt": "from-primary"})

	dirty, err := synctarget.New("dirty-sec", core.TargetRoleSecondary, nil)
	if err != nil {
		t.Fatal(err)
	}
	fs := memfs.NewWithFiles(map[string]string{"old.txt": "stale"}, 1)
	err = dirty.Initialize(fs, core.TargetRoleSecondary, synctarget.InitializeOptions{
		ResolveFromPrimary: func() error { return m.FullSyncFromPrimaryToTarget("dirty-sec") },
	})
	if err == nil {
		t.Fatal("expected initialize to reject a non-empty secondary root")
	}
	if dirty.GetState(0).Status != core.StatusError {
		t.Fatalf("expected StatusError, got %s", dirty.GetState(0).Status)
	}

	if err := m.RegisterTarget(dirty, core.TargetRoleSecondary); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	t.Cleanup(dirty.Unwatch)

	if err := m.ReinitializeTarget("dirty-sec"); err != nil {
		t.Fatalf("reinitialize failed: %v", err)
	}
	if dirty.GetState(0).Status != core.StatusIdle {
		t.Fatalf("expected StatusIdle after reinitialize, got %s", dirty.GetState(0).Status)
	}

	if _, err := fs.ReadFile(core.NormalizePath("old.txt")); err == nil {
		t.Fatal("expected old.txt to be removed by the full resync")
	}
	content, err := fs.ReadFile(core.NormalizePath("new.txt"))
	if err != nil || string(content) != "from-primary" {
		t.Fatalf("expected new.txt mirrored from primary, got %q, err=%v", content, err)
	}
}

// TestScenarioIgnoredFilesNeverPropagate covers spec scenario 6: a file the
// watcher filters out is never handed to the manager, so routing a batch
// that carries only the real change leaves the ignored file present on the
// target where it was written and absent from every other target.
func TestScenarioIgnoredFilesNeverPropagate(t *testing.T) {
	m, primary, secondaries := newRegisteredManager(t, nil, "sec-1")
	secondary := secondaries["sec-1"]

	ignorePath := core.NormalizePath("a.tmp")
	keepPath := core.NormalizePath("keep.txt")

	ignoreMeta := core.NewFileMetadata(ignorePath, []byte("scratch"), 1)
	keepMeta := core.NewFileMetadata(keepPath, []byte("x"), 1)

	primaryEntry := m.entryFor(primary.ID)
	if err := primaryEntry.target.NotifyIncomingChanges([]core.Path{ignorePath, keepPath}); err != nil {
		t.Fatal(err)
	}
	if err := primaryEntry.target.ForceApplyFileChange(core.FileChange{
		FileChangeInfo: core.FileChangeInfo{Path: ignorePath, Type: core.ChangeCreate, Metadata: &ignoreMeta},
		Stream:         core.NewContentStream(ignoreMeta, []byte("scratch")),
	}); err != nil {
		t.Fatal(err)
	}
	if err := primaryEntry.target.ForceApplyFileChange(core.FileChange{
		FileChangeInfo: core.FileChangeInfo{Path: keepPath, Type: core.ChangeCreate, Metadata: &keepMeta},
		Stream:         core.NewContentStream(keepMeta, []byte("x")),
	}); err != nil {
		t.Fatal(err)
	}
	if err := primaryEntry.target.SyncComplete(); err != nil {
		t.Fatal(err)
	}

	// A real watcher with an ignore service installed would never emit
	// a.tmp in the first place (pkg/synctarget's TestWatchNeverEmitsIgnoredPath
	// covers that); here the manager only ever sees keep.txt routed.
	m.HandleTargetChanges(primary.ID, []core.FileChangeInfo{
		{Path: keepPath, Type: core.ChangeCreate, Metadata: &keepMeta, SourceTarget: primary.ID},
	})
	waitForIdle(t, m, "sec-1")

	if _, err := secondary.GetFileContent(keepPath); err != nil {
		t.Fatalf("expected keep.txt to reach the secondary: %v", err)
	}
	if _, err := secondary.GetFileContent(ignorePath); err == nil {
		t.Fatal("expected ignored path to never reach the secondary")
	}
}
