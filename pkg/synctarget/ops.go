package synctarget

import (
	"github.com/mrsimpson/piddie-sync/pkg/core"
	"github.com/mrsimpson/piddie-sync/pkg/filesystem"
	"github.com/mrsimpson/piddie-sync/pkg/syncerr"
)

// NotifyIncomingChanges transitions the target into StatusCollecting and
// locks its filesystem in LockModeSync, claiming it against local writers
// for the duration of an incoming batch (spec.md §4.3). The lock
// auto-releases after SyncLockTimeout as a safety net against a manager that
// never calls SyncComplete. paths is accepted for parity with the spec's
// notifyIncomingChanges(paths) signature; the lock itself is target-wide.
func (t *Target) NotifyIncomingChanges(paths []core.Path) error {
	if err := t.machine.transition(core.StatusCollecting); err != nil {
		return err
	}

	t.fsMu.RLock()
	fs := t.fs
	t.fsMu.RUnlock()
	if fs == nil {
		err := syncerr.New(syncerr.KindInvalidOperation, "target has no filesystem attached")
		t.machine.fail(err)
		return err
	}

	if err := fs.Lock(int64(SyncLockTimeout.Milliseconds()), "incoming sync batch", core.LockModeSync, filesystem.LockOwner(t.ID)); err != nil {
		t.machine.fail(err)
		return syncerr.Wrap(syncerr.KindLocked, err, "unable to lock target for incoming changes")
	}

	return nil
}

// ApplyFileChange applies a single change from an incoming batch. The
// target must be in StatusCollecting (set by NotifyIncomingChanges) or
// already StatusSyncing (for the second and subsequent changes in the same
// batch). On success it updates the target's in-memory snapshot so its own
// watcher does not re-detect the applied change as a local edit.
//
// For create/modify, if the path already exists locally with a content hash
// that differs from the incoming metadata's hash, the write is withheld and
// a FileConflict is returned instead (spec.md §4.3, §3 FileConflict): this
// is what keeps a secondary from silently overwriting a primary, and what
// lets the manager apply its primary-wins policy instead of a blind write.
// A path that does not yet exist locally always applies directly, since
// there is nothing to diverge from.
func (t *Target) ApplyFileChange(change core.FileChange) (*core.FileConflict, error) {
	conflict, metadata, applyErr := t.applyFileChange(change, false)
	return conflict, t.finishApply(change, metadata, applyErr)
}

// ForceApplyFileChange applies change unconditionally, skipping the
// existing-content conflict check. It is used by the manager to perform the
// "primary wins" overwrite once a conflict has already been reported
// (spec.md §4.4 Conflict policy).
func (t *Target) ForceApplyFileChange(change core.FileChange) error {
	_, metadata, applyErr := t.applyFileChange(change, true)
	return t.finishApply(change, metadata, applyErr)
}

// applyFileChange contains the shared apply logic for ApplyFileChange and
// ForceApplyFileChange. It performs the state-machine transition, the
// conflict check (unless force is set), and the actual filesystem
// operation, returning the metadata that should be recorded in the
// snapshot on success.
func (t *Target) applyFileChange(change core.FileChange, force bool) (*core.FileConflict, *core.FileMetadata, error) {
	status, _ := t.machine.current()
	if status == core.StatusCollecting {
		if err := t.machine.transition(core.StatusSyncing); err != nil {
			return nil, nil, err
		}
	} else if status != core.StatusSyncing {
		return nil, nil, syncerr.New(syncerr.KindInvalidOperation, "applyFileChange called outside an active sync batch")
	}

	t.fsMu.RLock()
	fs := t.fs
	t.fsMu.RUnlock()
	if fs == nil {
		err := syncerr.New(syncerr.KindInvalidOperation, "target has no filesystem attached")
		t.machine.fail(err)
		return nil, nil, err
	}

	owner := filesystem.LockOwner(t.ID)

	if change.Type == core.ChangeDelete {
		return nil, nil, fs.DeleteItem(change.Path, filesystem.DeleteItemOptions{Recursive: true}, true, owner)
	}

	if change.Metadata == nil {
		return nil, nil, syncerr.New(syncerr.KindInvalidOperation, "create/modify change missing metadata")
	}
	metadata := *change.Metadata

	if metadata.Kind == core.EntryKindDirectory {
		return nil, &metadata, fs.CreateDirectory(change.Path, filesystem.CreateDirectoryOptions{Recursive: true})
	}

	if !force && fs.Exists(change.Path) {
		if existing, err := fs.GetMetadata(change.Path); err == nil && existing.Hash != metadata.Hash {
			if change.Stream != nil {
				_ = change.Stream.Close()
			}
			return &core.FileConflict{
				Path:         change.Path,
				SourceTarget: change.SourceTarget,
				TargetID:     t.ID,
				Timestamp:    change.Timestamp,
			}, nil, nil
		}
	}

	if change.Stream == nil {
		return nil, nil, syncerr.New(syncerr.KindContentRetrievalFailed, "create/modify change missing content stream")
	}
	content, err := core.DrainAndVerify(change.Stream)
	if err != nil {
		return nil, nil, err
	}
	return nil, &metadata, fs.WriteFile(change.Path, content, metadata.LastModified, true, owner)
}

// finishApply records a failure against the state machine and wraps it with
// KindApplyFailed, or updates the snapshot on success. It is a no-op (aside
// from returning nil) for conflicts, which are not failures.
func (t *Target) finishApply(change core.FileChange, metadata *core.FileMetadata, applyErr error) error {
	if applyErr != nil {
		t.machine.fail(applyErr)
		return syncerr.Wrap(syncerr.KindApplyFailed, applyErr, "unable to apply change to "+change.Path.String())
	}

	t.snapshotMu.Lock()
	if t.snapshot == nil {
		t.snapshot = make(map[core.Path]core.FileMetadata)
	}
	if change.Type == core.ChangeDelete {
		delete(t.snapshot, change.Path)
	} else if metadata != nil {
		t.snapshot[change.Path] = *metadata
	}
	t.snapshotMu.Unlock()

	return nil
}

// SyncComplete ends an incoming batch, releasing the sync lock and
// returning the target to StatusIdle.
func (t *Target) SyncComplete() error {
	t.fsMu.RLock()
	fs := t.fs
	t.fsMu.RUnlock()
	if fs != nil {
		_ = fs.Unlock(filesystem.LockOwner(t.ID))
	}

	status, _ := t.machine.current()
	if status == core.StatusError {
		return nil
	}
	return t.machine.transition(core.StatusIdle)
}

// GetMetadata returns the current metadata for path, reading through to the
// underlying filesystem.
func (t *Target) GetMetadata(path core.Path) (core.FileMetadata, error) {
	t.fsMu.RLock()
	fs := t.fs
	t.fsMu.RUnlock()
	if fs == nil {
		return core.FileMetadata{}, syncerr.New(syncerr.KindInvalidOperation, "target has no filesystem attached")
	}
	return fs.GetMetadata(path)
}

// GetFileContent returns a content stream for path, for use by a manager
// relaying this target's content to a peer.
func (t *Target) GetFileContent(path core.Path) (core.FileContentStream, error) {
	t.fsMu.RLock()
	fs := t.fs
	t.fsMu.RUnlock()
	if fs == nil {
		return nil, syncerr.New(syncerr.KindInvalidOperation, "target has no filesystem attached")
	}

	metadata, err := fs.GetMetadata(path)
	if err != nil {
		return nil, err
	}
	content, err := fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return core.NewContentStream(metadata, content), nil
}

// Recover attempts to bring a target out of StatusError, per strategy
// (spec.md §4.3 recover, §6 Recognized target-init options). RecoveryNone
// simply clears the error; RecoveryClear additionally discards the stored
// snapshot so the next poll re-detects every current file as a create;
// RecoveryFromPrimary clears the snapshot, returns the target to StatusIdle
// so an incoming batch can start, and invokes the manager-supplied
// ResolveFromPrimary callback to pull a full resync.
func (t *Target) Recover(strategy RecoveryStrategy) error {
	status, _ := t.machine.current()
	if status != core.StatusError {
		return syncerr.New(syncerr.KindInvalidOperation, "recover called outside error state")
	}

	switch strategy {
	case RecoveryNone:
		// Nothing further to do.
	case RecoveryClear:
		t.snapshotMu.Lock()
		t.snapshot = make(map[core.Path]core.FileMetadata)
		t.snapshotMu.Unlock()
	case RecoveryFromPrimary:
		t.snapshotMu.Lock()
		t.snapshot = make(map[core.Path]core.FileMetadata)
		t.snapshotMu.Unlock()
		if t.resolveFromPrimary != nil {
			if err := t.machine.transition(core.StatusIdle); err != nil {
				return err
			}
			if err := t.resolveFromPrimary(); err != nil {
				t.machine.fail(err)
				return syncerr.Wrap(syncerr.KindInitializationFailed, err, "full resync from primary failed")
			}
			return nil
		}
	default:
		return syncerr.New(syncerr.KindInvalidOperation, "unrecognized recovery strategy")
	}

	return t.machine.transition(core.StatusIdle)
}
