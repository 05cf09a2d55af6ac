// Package localfs implements filesystem.FileSystem against an OS directory
// tree. Path walking follows the recursive-walk shape of the teacher's
// filesystem.Walk helper, and write/delete locking follows its
// advisory-lock idiom (pkg/filesystem/locking), adapted from an OS-level
// flock to an in-process, mode+owner-tagged lock since targets in this
// engine are synchronized cooperatively within a single process rather than
// across processes.
package localfs

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mrsimpson/piddie-sync/pkg/core"
	"github.com/mrsimpson/piddie-sync/pkg/filesystem"
	"github.com/mrsimpson/piddie-sync/pkg/syncerr"
)

// FileSystem is a disk-backed filesystem.FileSystem rooted at a directory.
type FileSystem struct {
	root string

	mu          sync.Mutex
	initialized bool
	errored     bool
	disposable  bool

	lock      core.LockState
	lockTimer *time.Timer
}

// New creates a FileSystem rooted at root. If disposable is true, Dispose
// removes the root directory entirely (used for project-scoped scratch
// backings); otherwise Dispose only releases locks.
func New(root string, disposable bool) *FileSystem {
	return &FileSystem{root: root, disposable: disposable}
}

func (f *FileSystem) resolve(path core.Path) string {
	if path.IsRoot() {
		return f.root
	}
	return filepath.Join(f.root, filepath.FromSlash(path.String()))
}

// Initialize implements filesystem.FileSystem.Initialize.
func (f *FileSystem) Initialize() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.errored {
		return syncerr.New(syncerr.KindInvalidOperation, "filesystem is in an error state")
	}
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		f.errored = true
		return syncerr.Wrap(syncerr.KindInvalidOperation, errors.Wrap(err, "unable to create root"), "unable to initialize filesystem")
	}
	f.initialized = true
	return nil
}

// ReadFile implements filesystem.FileSystem.ReadFile.
func (f *FileSystem) ReadFile(path core.Path) ([]byte, error) {
	content, err := ioutil.ReadFile(f.resolve(path))
	if os.IsNotExist(err) {
		return nil, syncerr.New(syncerr.KindNotFound, "file not found: "+path.String())
	} else if err != nil {
		return nil, syncerr.Wrap(syncerr.KindInvalidOperation, errors.Wrap(err, "read failed"), "unable to read file")
	}
	return content, nil
}

// checkWriteLocked reports whether a write by owner should be rejected given
// the current lock state. A sync-mode lock blocks every non-sync writer,
// since it guards the window between notifyIncomingChanges and
// syncComplete; an external-mode lock only blocks writers whose owner
// doesn't match the lock holder.
func (f *FileSystem) checkWriteLocked(isSyncOperation bool, owner filesystem.LockOwner) error {
	if !f.lock.IsLocked || isSyncOperation {
		return nil
	}
	switch f.lock.Mode {
	case core.LockModeSync:
		return syncerr.New(syncerr.KindLocked, "filesystem is locked")
	case core.LockModeExternal:
		if f.lock.Owner != string(owner) {
			return syncerr.New(syncerr.KindLocked, "filesystem is locked")
		}
	}
	return nil
}

// WriteFile implements filesystem.FileSystem.WriteFile.
func (f *FileSystem) WriteFile(path core.Path, content []byte, lastModified int64, isSyncOperation bool, owner filesystem.LockOwner) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkWriteLocked(isSyncOperation, owner); err != nil {
		return err
	}

	full := f.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return syncerr.Wrap(syncerr.KindApplyFailed, errors.Wrap(err, "mkdir failed"), "unable to prepare parent directory")
	}
	if err := ioutil.WriteFile(full, content, 0o644); err != nil {
		return syncerr.Wrap(syncerr.KindApplyFailed, errors.Wrap(err, "write failed"), "unable to write file")
	}

	mtime := time.UnixMilli(lastModified)
	if err := os.Chtimes(full, mtime, mtime); err != nil {
		return syncerr.Wrap(syncerr.KindApplyFailed, errors.Wrap(err, "chtimes failed"), "unable to preserve modification time")
	}

	return nil
}

// CreateDirectory implements filesystem.FileSystem.CreateDirectory.
func (f *FileSystem) CreateDirectory(path core.Path, options filesystem.CreateDirectoryOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	full := f.resolve(path)

	if options.Recursive {
		if err := os.MkdirAll(full, 0o755); err != nil {
			return syncerr.Wrap(syncerr.KindInvalidOperation, errors.Wrap(err, "mkdir -p failed"), "unable to create directory")
		}
		return nil
	}

	if _, err := os.Stat(full); err == nil {
		return syncerr.New(syncerr.KindAlreadyExists, "already exists: "+path.String())
	}
	if err := os.Mkdir(full, 0o755); err != nil {
		if os.IsNotExist(err) {
			return syncerr.New(syncerr.KindNotFound, "parent does not exist: "+path.Parent().String())
		}
		return syncerr.Wrap(syncerr.KindInvalidOperation, errors.Wrap(err, "mkdir failed"), "unable to create directory")
	}
	return nil
}

// DeleteItem implements filesystem.FileSystem.DeleteItem.
func (f *FileSystem) DeleteItem(path core.Path, options filesystem.DeleteItemOptions, isSyncOperation bool, owner filesystem.LockOwner) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkWriteLocked(isSyncOperation, owner); err != nil {
		return err
	}

	full := f.resolve(path)
	info, err := os.Stat(full)
	if os.IsNotExist(err) {
		return syncerr.New(syncerr.KindNotFound, "not found: "+path.String())
	} else if err != nil {
		return syncerr.Wrap(syncerr.KindInvalidOperation, errors.Wrap(err, "stat failed"), "unable to stat entry")
	}

	if info.IsDir() {
		if options.Recursive {
			if err := os.RemoveAll(full); err != nil {
				return syncerr.Wrap(syncerr.KindApplyFailed, errors.Wrap(err, "remove failed"), "unable to delete directory")
			}
			return nil
		}
		if err := os.Remove(full); err != nil {
			return syncerr.New(syncerr.KindInvalidOperation, "directory not empty: "+path.String())
		}
		return nil
	}

	if err := os.Remove(full); err != nil {
		return syncerr.Wrap(syncerr.KindApplyFailed, errors.Wrap(err, "remove failed"), "unable to delete file")
	}
	return nil
}

// ListDirectory implements filesystem.FileSystem.ListDirectory.
func (f *FileSystem) ListDirectory(path core.Path) ([]filesystem.FileSystemItem, error) {
	entries, err := ioutil.ReadDir(f.resolve(path))
	if os.IsNotExist(err) {
		return nil, syncerr.New(syncerr.KindNotFound, "not found: "+path.String())
	} else if err != nil {
		return nil, syncerr.Wrap(syncerr.KindInvalidOperation, errors.Wrap(err, "readdir failed"), "unable to list directory")
	}

	items := make([]filesystem.FileSystemItem, 0, len(entries))
	for _, e := range entries {
		kind := core.EntryKindFile
		if e.IsDir() {
			kind = core.EntryKindDirectory
		}
		items = append(items, filesystem.FileSystemItem{Name: e.Name(), Kind: kind})
	}
	return items, nil
}

// GetMetadata implements filesystem.FileSystem.GetMetadata.
func (f *FileSystem) GetMetadata(path core.Path) (core.FileMetadata, error) {
	full := f.resolve(path)
	info, err := os.Stat(full)
	if os.IsNotExist(err) {
		return core.FileMetadata{}, syncerr.New(syncerr.KindNotFound, "not found: "+path.String())
	} else if err != nil {
		return core.FileMetadata{}, syncerr.Wrap(syncerr.KindInvalidOperation, errors.Wrap(err, "stat failed"), "unable to stat entry")
	}

	if info.IsDir() {
		return core.NewDirectoryMetadata(path, info.ModTime().UnixMilli()), nil
	}

	content, err := ioutil.ReadFile(full)
	if err != nil {
		return core.FileMetadata{}, syncerr.Wrap(syncerr.KindInvalidOperation, errors.Wrap(err, "read failed"), "unable to hash file")
	}

	return core.FileMetadata{
		Path:         path,
		Kind:         core.EntryKindFile,
		Hash:         core.HashContent(content),
		Size:         info.Size(),
		LastModified: info.ModTime().UnixMilli(),
	}, nil
}

// Exists implements filesystem.FileSystem.Exists.
func (f *FileSystem) Exists(path core.Path) bool {
	_, err := os.Stat(f.resolve(path))
	return err == nil
}

// Lock implements filesystem.FileSystem.Lock.
func (f *FileSystem) Lock(timeoutMs int64, reason string, mode core.LockMode, owner filesystem.LockOwner) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lock.IsLocked && f.lock.Owner != string(owner) {
		return syncerr.New(syncerr.KindLocked, "filesystem is already locked: "+reason)
	}

	if f.lockTimer != nil {
		f.lockTimer.Stop()
	}
	f.lock = core.LockState{IsLocked: true, Mode: mode, Owner: string(owner)}
	if timeoutMs > 0 {
		f.lockTimer = time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.lock = core.LockState{}
		})
	}
	return nil
}

// Unlock implements filesystem.FileSystem.Unlock.
func (f *FileSystem) Unlock(owner filesystem.LockOwner) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.lock.IsLocked {
		return nil
	}
	if f.lock.Owner != string(owner) {
		return syncerr.New(syncerr.KindInvalidOperation, "unlock attempted by non-owner")
	}
	if f.lockTimer != nil {
		f.lockTimer.Stop()
	}
	f.lock = core.LockState{}
	return nil
}

// ForceUnlock implements filesystem.FileSystem.ForceUnlock.
func (f *FileSystem) ForceUnlock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockTimer != nil {
		f.lockTimer.Stop()
	}
	f.lock = core.LockState{}
}

// Dispose implements filesystem.FileSystem.Dispose. It never returns an
// error: any failure while removing a disposable root is swallowed, since
// dispose is a best-effort teardown (spec.md §4.1).
func (f *FileSystem) Dispose() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lockTimer != nil {
		f.lockTimer.Stop()
	}
	f.lock = core.LockState{}

	if f.disposable {
		_ = os.RemoveAll(f.root)
	}
	return nil
}

// LockState implements filesystem.FileSystem.LockState.
func (f *FileSystem) LockState() core.LockState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lock
}

// Walk lists every non-ignored entry under the root recursively, returning
// metadata for each. It mirrors the recursive-descent shape of the
// teacher's filesystem.Walk/poll helpers, generalized to return
// core.FileMetadata (content hash included) rather than raw os.FileInfo.
func (f *FileSystem) Walk() ([]core.FileMetadata, error) {
	var results []core.FileMetadata

	var walkDir func(relative core.Path) error
	walkDir = func(relative core.Path) error {
		full := f.resolve(relative)
		entries, err := ioutil.ReadDir(full)
		if os.IsNotExist(err) {
			return nil
		} else if err != nil {
			return errors.Wrap(err, "unable to read directory during walk")
		}

		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, e := range entries {
			childPath := core.NormalizePath(strings.TrimPrefix(relative.String(), "/") + "/" + e.Name())
			if relative.IsRoot() {
				childPath = core.NormalizePath(e.Name())
			}

			if e.IsDir() {
				results = append(results, core.NewDirectoryMetadata(childPath, e.ModTime().UnixMilli()))
				if err := walkDir(childPath); err != nil {
					return err
				}
				continue
			}

			content, err := ioutil.ReadFile(filepath.Join(full, e.Name()))
			if err != nil {
				// Concurrent deletion between listing and reading; skip it,
				// matching the teacher's tolerance of concurrent modification
				// during a walk.
				continue
			}
			results = append(results, core.FileMetadata{
				Path:         childPath,
				Kind:         core.EntryKindFile,
				Hash:         core.HashContent(content),
				Size:         int64(len(content)),
				LastModified: e.ModTime().UnixMilli(),
			})
		}
		return nil
	}

	if err := walkDir(core.Root); err != nil {
		return nil, errors.Wrap(err, "unable to perform filesystem walk")
	}
	return results, nil
}

var _ filesystem.FileSystem = (*FileSystem)(nil)
