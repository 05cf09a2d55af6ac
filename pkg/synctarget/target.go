// Package synctarget implements SyncTarget (spec.md §4.3): a state machine
// wrapping a single filesystem.FileSystem, with a polling watcher that
// detects local changes and a small set of operations the manager uses to
// push incoming changes into it.
//
// The polling loop, its fixed interval, and its non-overlap guarantee are
// grounded on the teacher's watch_poll.go (poll-based filesystem watching:
// a single in-flight scan, diffed against the previous snapshot). Debounce
// batching is grounded on the teacher's state.Coalescer, which already
// implements "combine signals arriving within a window into one".
package synctarget

import (
	"sort"
	"sync"
	"time"

	"github.com/mrsimpson/piddie-sync/pkg/core"
	"github.com/mrsimpson/piddie-sync/pkg/filesystem"
	"github.com/mrsimpson/piddie-sync/pkg/identifier"
	"github.com/mrsimpson/piddie-sync/pkg/ignore"
	"github.com/mrsimpson/piddie-sync/pkg/logging"
	"github.com/mrsimpson/piddie-sync/pkg/state"
	"github.com/mrsimpson/piddie-sync/pkg/syncerr"
)

const (
	// DefaultPollInterval is the fixed interval between watcher ticks
	// (spec.md §4.3 "design value: 1000 ms").
	DefaultPollInterval = 1000 * time.Millisecond
	// DefaultDebounceWindow is the quiet period after a detected change
	// before a batch is emitted (spec.md §4.3 "design value: 100 ms").
	DefaultDebounceWindow = 100 * time.Millisecond
	// SyncLockTimeout is the lock duration used by NotifyIncomingChanges
	// (spec.md §4.3).
	SyncLockTimeout = 30 * time.Second
)

// Target implements the SyncTarget component.
type Target struct {
	// ID is this target's identifier, also used as its filesystem lock
	// owner tag.
	ID string
	// Role is whether this target is primary or secondary.
	Role core.TargetRole

	logger *logging.Logger

	machine *stateMachine

	fsMu sync.RWMutex
	fs   filesystem.FileSystem

	ignoreMu  sync.Mutex
	ignoreSvc ignore.Service

	resolveFromPrimary func() error

	snapshotMu sync.Mutex
	snapshot   map[core.Path]core.FileMetadata

	watchMu    sync.Mutex
	ticking    bool
	callback   ChangeBatchCallback
	coalescer  *state.Coalescer
	pendingMu  sync.Mutex
	pendingSet map[core.Path]core.FileChangeInfo
	pendingSeq []core.Path
	stopPoll   chan struct{}
	pollDone   chan struct{}
	started    bool
	pollInterval time.Duration
	debounceWindow time.Duration
}

// New creates a Target with the given id and role. If id is empty, a fresh
// collision-resistant identifier is generated.
func New(id string, role core.TargetRole, logger *logging.Logger) (*Target, error) {
	if id == "" {
		generated, err := identifier.New(identifier.PrefixTarget)
		if err != nil {
			return nil, err
		}
		id = generated
	}
	sub := logger
	if sub != nil {
		sub = sub.Sublogger(id)
	}
	return &Target{
		ID:             id,
		Role:           role,
		logger:         sub,
		machine:        newStateMachine(),
		pollInterval:   DefaultPollInterval,
		debounceWindow: DefaultDebounceWindow,
	}, nil
}

// SetPollInterval overrides the watcher's tick interval. Must be called
// before Watch.
func (t *Target) SetPollInterval(d time.Duration) {
	if d > 0 {
		t.pollInterval = d
	}
}

// SetDebounceWindow overrides the watcher's debounce window. Must be called
// before Watch.
func (t *Target) SetDebounceWindow(d time.Duration) {
	if d > 0 {
		t.debounceWindow = d
	}
}

// SetIgnoreService installs the ignore predicate consulted by the watcher.
func (t *Target) SetIgnoreService(svc ignore.Service) {
	t.ignoreMu.Lock()
	defer t.ignoreMu.Unlock()
	t.ignoreSvc = svc
}

func (t *Target) isIgnored(path core.Path, directory bool) bool {
	t.ignoreMu.Lock()
	svc := t.ignoreSvc
	t.ignoreMu.Unlock()
	if svc == nil {
		return false
	}
	candidate := path.String()
	if directory {
		candidate += "/"
	}
	return svc.IsIgnored(candidate)
}

// Initialize wires fs into the target and performs the initial scan (unless
// SkipFileScan is set). Secondary targets with a non-empty root fail with
// KindInitializationFailed and transition to StatusError, preventing silent
// overwrite of user data on a freshly attached peer (spec.md §4.3).
func (t *Target) Initialize(fs filesystem.FileSystem, role core.TargetRole, options InitializeOptions) error {
	t.Role = role
	t.resolveFromPrimary = options.ResolveFromPrimary

	if err := fs.Initialize(); err != nil {
		t.machine.fail(err)
		return syncerr.Wrap(syncerr.KindInitializationFailed, err, "filesystem initialization failed")
	}

	if role == core.TargetRoleSecondary {
		nonEmpty, err := rootNonEmpty(fs)
		if err != nil {
			t.machine.fail(err)
			return syncerr.Wrap(syncerr.KindInitializationFailed, err, "unable to inspect secondary root")
		}
		if nonEmpty {
			err := syncerr.New(syncerr.KindInitializationFailed, "secondary target root is not empty")
			t.machine.fail(err)
			return err
		}
	}

	t.fsMu.Lock()
	t.fs = fs
	t.fsMu.Unlock()

	if !options.SkipFileScan {
		snapshot, err := t.scan()
		if err != nil {
			t.machine.fail(err)
			return syncerr.Wrap(syncerr.KindInitializationFailed, err, "initial scan failed")
		}
		t.snapshotMu.Lock()
		t.snapshot = snapshot
		t.snapshotMu.Unlock()
	} else {
		t.snapshotMu.Lock()
		t.snapshot = make(map[core.Path]core.FileMetadata)
		t.snapshotMu.Unlock()
	}

	return t.machine.transition(core.StatusIdle)
}

// rootNonEmpty reports whether the filesystem root currently has any direct
// children.
func rootNonEmpty(fs filesystem.FileSystem) (bool, error) {
	items, err := fs.ListDirectory(core.Root)
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

// scan performs a full recursive walk of the target's filesystem, filtering
// ignored paths, and returns the resulting snapshot. Errors encountered by
// the ignore predicate are swallowed (treated as not ignored), per spec.md
// §4.2.
func (t *Target) scan() (map[core.Path]core.FileMetadata, error) {
	t.fsMu.RLock()
	fs := t.fs
	t.fsMu.RUnlock()

	snapshot := make(map[core.Path]core.FileMetadata)

	var walk func(dir core.Path) error
	walk = func(dir core.Path) error {
		items, err := fs.ListDirectory(dir)
		if err != nil {
			return err
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
		for _, item := range items {
			var childPath core.Path
			if dir.IsRoot() {
				childPath = core.NormalizePath(item.Name)
			} else {
				childPath = core.NormalizePath(dir.String() + "/" + item.Name)
			}

			if t.isIgnored(childPath, item.Kind == core.EntryKindDirectory) {
				continue
			}

			metadata, err := fs.GetMetadata(childPath)
			if err != nil {
				continue
			}
			snapshot[childPath] = metadata

			if item.Kind == core.EntryKindDirectory {
				if err := walk(childPath); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(core.Root); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Dispose stops the watcher (if running) and tears down the underlying
// filesystem.
func (t *Target) Dispose() error {
	t.Unwatch()

	t.fsMu.RLock()
	fs := t.fs
	t.fsMu.RUnlock()
	if fs == nil {
		return nil
	}
	return fs.Dispose()
}

// Snapshot returns a copy of the target's current in-memory metadata
// snapshot, keyed by path. It is used by the manager's full-resync driver
// to enumerate a target's content without reaching into its internals
// (spec.md §4.4 "enumerate the primary").
func (t *Target) Snapshot() map[core.Path]core.FileMetadata {
	t.snapshotMu.Lock()
	defer t.snapshotMu.Unlock()
	copied := make(map[core.Path]core.FileMetadata, len(t.snapshot))
	for k, v := range t.snapshot {
		copied[k] = v
	}
	return copied
}

// GetState returns a read-only snapshot of the target's state. pendingCount
// is supplied by the caller (the manager owns the pending queue).
func (t *Target) GetState(pendingCount int) core.TargetState {
	status, errMsg := t.machine.current()
	t.fsMu.RLock()
	fs := t.fs
	t.fsMu.RUnlock()

	var lock core.LockState
	if fs != nil {
		lock = fs.LockState()
	}

	return core.TargetState{
		ID:             t.ID,
		Type:           "sync-target",
		Status:         status,
		PendingChanges: pendingCount,
		Lock:           lock,
		Error:          errMsg,
	}
}
