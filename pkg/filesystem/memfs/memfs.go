// Package memfs provides an in-memory FileSystem implementation, used both
// for tests and for ephemeral/observer targets that have no durable backing
// (spec.md §4.3 skipFileScan targets).
package memfs

import (
	"strings"
	"sync"
	"time"

	"github.com/mrsimpson/piddie-sync/pkg/core"
	"github.com/mrsimpson/piddie-sync/pkg/filesystem"
	"github.com/mrsimpson/piddie-sync/pkg/syncerr"
)

// entry is a single in-memory filesystem node.
type entry struct {
	kind         core.EntryKind
	content      []byte
	lastModified int64
}

// FileSystem is an in-memory FileSystem implementation. All paths are
// stored in normalized form. It is safe for concurrent use.
type FileSystem struct {
	mu sync.Mutex

	initialized bool
	errored     bool

	// entries maps normalized paths to nodes. The root is implicit and
	// never stored.
	entries map[core.Path]*entry

	lock      core.LockState
	lockTimer *time.Timer
}

// New creates an empty in-memory filesystem.
func New() *FileSystem {
	return &FileSystem{
		entries: make(map[core.Path]*entry),
	}
}

// NewWithFiles creates an in-memory filesystem pre-populated with the given
// files, each with the given lastModified timestamp. It is a test
// convenience for constructing a "dirty root" or pre-seeded primary.
func NewWithFiles(files map[string]string, lastModified int64) *FileSystem {
	fs := New()
	for p, content := range files {
		path := core.NormalizePath(p)
		fs.ensureParents(path, lastModified)
		fs.entries[path] = &entry{
			kind:         core.EntryKindFile,
			content:      []byte(content),
			lastModified: lastModified,
		}
	}
	return fs
}

// ensureParents creates any missing parent directories for path.
func (f *FileSystem) ensureParents(path core.Path, lastModified int64) {
	parent := path.Parent()
	for !parent.IsRoot() {
		if _, ok := f.entries[parent]; ok {
			break
		}
		f.entries[parent] = &entry{kind: core.EntryKindDirectory, lastModified: lastModified}
		parent = parent.Parent()
	}
}

// Initialize implements filesystem.FileSystem.Initialize.
func (f *FileSystem) Initialize() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errored {
		return syncerr.New(syncerr.KindInvalidOperation, "filesystem is in an error state")
	}
	f.initialized = true
	return nil
}

// ReadFile implements filesystem.FileSystem.ReadFile.
func (f *FileSystem) ReadFile(path core.Path) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[path]
	if !ok || e.kind != core.EntryKindFile {
		return nil, syncerr.New(syncerr.KindNotFound, "file not found: "+path.String())
	}
	content := make([]byte, len(e.content))
	copy(content, e.content)
	return content, nil
}

// checkWriteLocked reports whether a write by owner should be rejected
// given the current lock state. It must be called with f.mu held. A
// sync-mode lock blocks every non-sync writer, since it guards the window
// between notifyIncomingChanges and syncComplete; an external-mode lock
// only blocks writers whose owner doesn't match the lock holder.
func (f *FileSystem) checkWriteLocked(isSyncOperation bool, owner filesystem.LockOwner) error {
	if !f.lock.IsLocked {
		return nil
	}
	if isSyncOperation {
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

	f.ensureParents(path, lastModified)
	stored := make([]byte, len(content))
	copy(stored, content)
	f.entries[path] = &entry{
		kind:         core.EntryKindFile,
		content:      stored,
		lastModified: lastModified,
	}
	return nil
}

// CreateDirectory implements filesystem.FileSystem.CreateDirectory.
func (f *FileSystem) CreateDirectory(path core.Path, options filesystem.CreateDirectoryOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now().UnixMilli()

	if e, ok := f.entries[path]; ok {
		if options.Recursive && e.kind == core.EntryKindDirectory {
			return nil
		}
		return syncerr.New(syncerr.KindAlreadyExists, "already exists: "+path.String())
	}

	parent := path.Parent()
	if !parent.IsRoot() {
		if _, ok := f.entries[parent]; !ok {
			if !options.Recursive {
				return syncerr.New(syncerr.KindNotFound, "parent does not exist: "+parent.String())
			}
			f.ensureParents(path, now)
		}
	}

	f.entries[path] = &entry{kind: core.EntryKindDirectory, lastModified: now}
	return nil
}

// DeleteItem implements filesystem.FileSystem.DeleteItem.
func (f *FileSystem) DeleteItem(path core.Path, options filesystem.DeleteItemOptions, isSyncOperation bool, owner filesystem.LockOwner) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkWriteLocked(isSyncOperation, owner); err != nil {
		return err
	}

	e, ok := f.entries[path]
	if !ok {
		return syncerr.New(syncerr.KindNotFound, "not found: "+path.String())
	}

	if e.kind == core.EntryKindDirectory {
		children := f.directChildrenLocked(path)
		if len(children) > 0 && !options.Recursive {
			return syncerr.New(syncerr.KindInvalidOperation, "directory not empty: "+path.String())
		}
		prefix := string(path) + "/"
		for p := range f.entries {
			if strings.HasPrefix(string(p), prefix) {
				delete(f.entries, p)
			}
		}
	}

	delete(f.entries, path)
	return nil
}

// directChildrenLocked returns the direct children of path. Must be called
// with f.mu held.
func (f *FileSystem) directChildrenLocked(path core.Path) []core.Path {
	var children []core.Path
	for p := range f.entries {
		if p.Parent() == path {
			children = append(children, p)
		}
	}
	return children
}

// ListDirectory implements filesystem.FileSystem.ListDirectory.
func (f *FileSystem) ListDirectory(path core.Path) ([]filesystem.FileSystemItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !path.IsRoot() {
		e, ok := f.entries[path]
		if !ok {
			return nil, syncerr.New(syncerr.KindNotFound, "not found: "+path.String())
		}
		if e.kind != core.EntryKindDirectory {
			return nil, syncerr.New(syncerr.KindInvalidOperation, "not a directory: "+path.String())
		}
	}

	var items []filesystem.FileSystemItem
	for _, p := range f.directChildrenLocked(path) {
		items = append(items, filesystem.FileSystemItem{Name: p.Base(), Kind: f.entries[p].kind})
	}
	return items, nil
}

// GetMetadata implements filesystem.FileSystem.GetMetadata.
func (f *FileSystem) GetMetadata(path core.Path) (core.FileMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[path]
	if !ok {
		return core.FileMetadata{}, syncerr.New(syncerr.KindNotFound, "not found: "+path.String())
	}
	if e.kind == core.EntryKindDirectory {
		return core.NewDirectoryMetadata(path, e.lastModified), nil
	}
	return core.FileMetadata{
		Path:         path,
		Kind:         core.EntryKindFile,
		Hash:         core.HashContent(e.content),
		Size:         int64(len(e.content)),
		LastModified: e.lastModified,
	}, nil
}

// Exists implements filesystem.FileSystem.Exists.
func (f *FileSystem) Exists(path core.Path) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if path.IsRoot() {
		return true
	}
	_, ok := f.entries[path]
	return ok
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

// Dispose implements filesystem.FileSystem.Dispose.
func (f *FileSystem) Dispose() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockTimer != nil {
		f.lockTimer.Stop()
	}
	f.entries = make(map[core.Path]*entry)
	return nil
}

// LockState implements filesystem.FileSystem.LockState.
func (f *FileSystem) LockState() core.LockState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lock
}

// Snapshot returns metadata for every entry currently in the filesystem,
// suitable for seeding a watcher's initial state or a full resync
// enumeration. The returned slice is sorted by path for determinism.
func (f *FileSystem) Snapshot() []core.FileMetadata {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([]core.FileMetadata, 0, len(f.entries))
	for p, e := range f.entries {
		if e.kind == core.EntryKindDirectory {
			result = append(result, core.NewDirectoryMetadata(p, e.lastModified))
		} else {
			result = append(result, core.FileMetadata{
				Path:         p,
				Kind:         core.EntryKindFile,
				Hash:         core.HashContent(e.content),
				Size:         int64(len(e.content)),
				LastModified: e.lastModified,
			})
		}
	}
	sortMetadata(result)
	return result
}

func sortMetadata(m []core.FileMetadata) {
	for i := 1; i < len(m); i++ {
		for j := i; j > 0 && m[j-1].Path > m[j].Path; j-- {
			m[j-1], m[j] = m[j], m[j-1]
		}
	}
}

var _ filesystem.FileSystem = (*FileSystem)(nil)
