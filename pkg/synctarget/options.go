package synctarget

import "github.com/mrsimpson/piddie-sync/pkg/core"

// RecoveryStrategy selects how Recover should repair a target's state
// (spec.md §4.3 recover).
type RecoveryStrategy string

const (
	// RecoveryFromPrimary clears the target's snapshot and invokes
	// ResolveFromPrimary to fully resync content from the primary target.
	RecoveryFromPrimary RecoveryStrategy = "fromPrimary"
	// RecoveryClear clears the target's snapshot so the next poll emits
	// creates for every currently-present file, without an external resync.
	RecoveryClear RecoveryStrategy = "clear"
	// RecoveryNone transitions the target back to idle without touching its
	// snapshot.
	RecoveryNone RecoveryStrategy = "none"
)

// InitializeOptions configures SyncTarget.Initialize (spec.md §6
// "Recognized target-init options").
type InitializeOptions struct {
	// SkipFileScan starts polling without computing an initial snapshot.
	// Used for ephemeral observer targets that don't need convergence
	// tracking.
	SkipFileScan bool
	// ResolveFromPrimary is invoked during Recover(RecoveryFromPrimary) to
	// perform a full resync from the primary into this target. It is
	// supplied by the manager, which is the only component that knows about
	// other targets; SyncTarget itself holds no reference to its peers.
	ResolveFromPrimary func() error
}

// WatchOptions configures SyncTarget.Watch (spec.md §6 "Recognized watch
// options").
type WatchOptions struct {
	// Priority is an opaque ordering hint for outer glue; the engine itself
	// does not interpret it.
	Priority int
	// Metadata is opaque data passed through to callers inspecting the
	// target's watch registration.
	Metadata interface{}
}

// ChangeBatchCallback receives a batch of changes flushed by the polling
// watcher after its debounce window elapses.
type ChangeBatchCallback func(batch []core.FileChangeInfo)
