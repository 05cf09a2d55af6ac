// Package filesystem defines the FileSystem contract that every sync target
// wraps (spec.md §4.1), along with the in-memory (memfs) and disk-backed
// (localfs) implementations of it.
package filesystem

import (
	"github.com/mrsimpson/piddie-sync/pkg/core"
)

// FileSystemItem is a direct child entry returned by ListDirectory.
type FileSystemItem struct {
	// Name is the entry's base name (not a full path).
	Name string
	// Kind indicates whether the entry is a file or directory.
	Kind core.EntryKind
}

// CreateDirectoryOptions configures CreateDirectory.
type CreateDirectoryOptions struct {
	// Recursive, when true, creates missing parents and treats an already
	// existing target directory as success.
	Recursive bool
}

// DeleteItemOptions configures DeleteItem.
type DeleteItemOptions struct {
	// Recursive, when true, allows deleting a non-empty directory and all of
	// its descendants.
	Recursive bool
}

// LockOwner identifies the holder of a FileSystem lock.
type LockOwner string

// FileSystem is the backing-store abstraction wrapped by a SyncTarget
// (spec.md §4.1). All operations are relative to a configured root; callers
// pass normalized, root-relative paths and implementations handle joining
// and validating them against that root.
//
// Lock semantics are mode+owner-tagged and advisory: unless isSyncOperation
// is set, WriteFile and DeleteItem reject with a KindLocked error while the
// filesystem is locked in LockModeSync (whatever the owner) or in
// LockModeExternal by a different owner; ReadFile, ListDirectory,
// GetMetadata, and Exists never check the lock.
type FileSystem interface {
	// Initialize ensures the root exists and transitions the filesystem from
	// uninitialized to ready. It is idempotent. It fails with
	// KindInvalidOperation if the filesystem is already in an error state.
	Initialize() error

	// ReadFile returns the content of the file at path. It fails with
	// KindNotFound if the path does not exist. Always permitted, even while
	// locked.
	ReadFile(path core.Path) ([]byte, error)

	// WriteFile writes content to path, recording lastModified as the
	// entry's modification time. If isSyncOperation is false and the
	// filesystem is locked in LockModeSync, or in LockModeExternal by a
	// different owner, it fails with KindLocked. If isSyncOperation is true,
	// the write bypasses the lock check.
	WriteFile(path core.Path, content []byte, lastModified int64, isSyncOperation bool, owner LockOwner) error

	// CreateDirectory creates a directory at path. Without Recursive it
	// fails with KindAlreadyExists if path exists or KindNotFound if its
	// parent is missing; with Recursive it creates missing parents and
	// succeeds silently if path already exists as a directory.
	CreateDirectory(path core.Path, options CreateDirectoryOptions) error

	// DeleteItem removes the entry at path, subject to the same lock check
	// as WriteFile. It fails with KindNotFound if path does not exist, and
	// with KindInvalidOperation for a non-empty directory unless Recursive
	// is set.
	DeleteItem(path core.Path, options DeleteItemOptions, isSyncOperation bool, owner LockOwner) error

	// ListDirectory returns the direct children of path. It fails with
	// KindNotFound if path does not exist. Permitted while locked.
	ListDirectory(path core.Path) ([]FileSystemItem, error)

	// GetMetadata returns the metadata for path, computing (or returning a
	// cached) content hash for files.
	GetMetadata(path core.Path) (core.FileMetadata, error)

	// Exists reports whether path currently exists.
	Exists(path core.Path) bool

	// Lock acquires the filesystem lock with the given reason, mode, and
	// owner, automatically releasing it after timeoutMs elapses. A second
	// Lock call while already held fails unless it comes from the same
	// owner.
	Lock(timeoutMs int64, reason string, mode core.LockMode, owner LockOwner) error

	// Unlock releases the lock if owner matches the current holder.
	Unlock(owner LockOwner) error

	// ForceUnlock unconditionally releases the lock, regardless of owner.
	ForceUnlock()

	// Dispose performs a best-effort teardown: it drains any pending
	// internal operations and, for disposable project-scoped backings,
	// deletes the backing store. It must never return an error that
	// indicates a bug in the caller's usage; by contract it does not panic.
	Dispose() error

	// LockState reports the filesystem's current lock status.
	LockState() core.LockState
}
