package syncmanager

import (
	"testing"

	"github.com/mrsimpson/piddie-sync/pkg/core"
)

func TestFullSyncFromPrimaryToTargetConvergesAndDeletesStale(t *testing.T) {
	m, _, secondaries := newRegisteredManager(t, map[string]string{
		"keep.txt":       "primary-content",
		"dir/nested.txt": "nested-content",
	}, "sec-1")
	secondary := secondaries["sec-1"]

	// Seed the secondary with a file the primary doesn't have; a full
	// resync must remove it.
	stalePath := core.NormalizePath("stale.txt")
	staleMeta := core.NewFileMetadata(stalePath, []byte("stale"), 1)
	if err := secondary.NotifyIncomingChanges([]core.Path{stalePath}); err != nil {
		t.Fatal(err)
	}
	if err := secondary.ForceApplyFileChange(core.FileChange{
		FileChangeInfo: core.FileChangeInfo{Path: stalePath, Type: core.ChangeCreate, Metadata: &staleMeta},
		Stream:         core.NewContentStream(staleMeta, []byte("stale")),
	}); err != nil {
		t.Fatal(err)
	}
	if err := secondary.SyncComplete(); err != nil {
		t.Fatal(err)
	}

	if err := m.FullSyncFromPrimaryToTarget("sec-1"); err != nil {
		t.Fatalf("full sync failed: %v", err)
	}

	for _, path := range []core.Path{core.NormalizePath("keep.txt"), core.NormalizePath("dir/nested.txt")} {
		stream, err := secondary.GetFileContent(path)
		if err != nil {
			t.Fatalf("expected %s to be present on secondary after full sync: %v", path, err)
		}
		stream.Close()
	}

	if _, err := secondary.GetFileContent(stalePath); err == nil {
		t.Fatal("expected stale.txt to be deleted by full sync")
	}
}

func TestFullSyncFromPrimaryToTargetRejectsUnknownTarget(t *testing.T) {
	m, _, _ := newRegisteredManager(t, nil)
	if err := m.FullSyncFromPrimaryToTarget("does-not-exist"); err == nil {
		t.Fatal("expected an error full-syncing an unregistered target")
	}
}

func TestFullSyncFromPrimaryToTargetRejectsPrimaryAsTarget(t *testing.T) {
	m, primary, _ := newRegisteredManager(t, nil)
	if err := m.FullSyncFromPrimaryToTarget(primary.ID); err == nil {
		t.Fatal("expected an error full-syncing the primary target to itself")
	}
}
