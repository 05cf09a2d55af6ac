package core

// TargetRole identifies a target's role within a sync group. At most one
// target per manager may hold TargetRolePrimary.
type TargetRole uint8

const (
	// TargetRolePrimary marks the source of truth on conflict.
	TargetRolePrimary TargetRole = iota
	// TargetRoleSecondary marks a target that defers to the primary on
	// conflict.
	TargetRoleSecondary
)

// String returns a human-readable name for the role.
func (r TargetRole) String() string {
	if r == TargetRolePrimary {
		return "primary"
	}
	return "secondary"
}

// TargetStatus is a state in a SyncTarget's state machine (spec.md §4.3).
type TargetStatus uint8

const (
	// StatusUninitialized is the initial state before Initialize succeeds.
	StatusUninitialized TargetStatus = iota
	// StatusIdle indicates the target is watching and ready to either detect
	// or receive changes.
	StatusIdle
	// StatusCollecting indicates the target has locked its filesystem in
	// response to NotifyIncomingChanges and is awaiting ApplyFileChange
	// calls.
	StatusCollecting
	// StatusSyncing indicates the target is actively applying a change.
	StatusSyncing
	// StatusNotifying indicates the target's watcher has detected and
	// batched local changes and is dispatching them to the manager.
	StatusNotifying
	// StatusError indicates the target has failed and requires Recover.
	StatusError
)

// String returns a human-readable name for the status.
func (s TargetStatus) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusIdle:
		return "idle"
	case StatusCollecting:
		return "collecting"
	case StatusSyncing:
		return "syncing"
	case StatusNotifying:
		return "notifying"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// LockMode identifies who requested a filesystem lock and for what purpose.
type LockMode uint8

const (
	// LockModeExternal is used by outer glue locking the filesystem for
	// reasons unrelated to synchronization (e.g. a user-initiated
	// maintenance operation).
	LockModeExternal LockMode = iota
	// LockModeSync is used by the sync engine itself while a batch of
	// changes is being applied to a target.
	LockModeSync
)

// LockState describes the current lock status of a target's filesystem.
type LockState struct {
	// IsLocked indicates whether the filesystem is currently locked.
	IsLocked bool
	// Mode is the purpose under which the lock was acquired. Only
	// meaningful when IsLocked is true.
	Mode LockMode
	// Owner is the identity that holds the lock. Only meaningful when
	// IsLocked is true.
	Owner string
}

// TargetState is a read-only snapshot of a SyncTarget, as exposed through
// the observer surface (spec.md §2 L6, §4.4 Observability).
type TargetState struct {
	// ID is the target's identifier.
	ID string
	// Type is an opaque, implementation-supplied label for the backing kind
	// (e.g. "local-disk", "memory").
	Type string
	// Status is the current state-machine status.
	Status TargetStatus
	// PendingChanges is the number of changes queued for this target in the
	// manager's pending queue.
	PendingChanges int
	// Lock is the current lock status of the target's filesystem.
	Lock LockState
	// Error, if non-empty, describes the most recent failure that put the
	// target into StatusError.
	Error string
}
