package core

// PendingSync reports unapplied changes queued for each target, keyed by
// target id (spec.md §3 PendingSync, §4.4 Failure model & pending queue).
type PendingSync struct {
	// PendingByTarget maps a target id to the list of changes awaiting
	// retry against that target.
	PendingByTarget map[string][]FileChangeInfo
}

// FailureRecord captures the most recent routing failure observed for a
// target, surfaced via FileSyncManager.GetStatus.
type FailureRecord struct {
	// TargetID is the id of the peer where the failure occurred.
	TargetID string
	// Error is the failure's message.
	Error string
	// Timestamp is when the failure occurred, in milliseconds since the
	// Unix epoch.
	Timestamp int64
}

// fullResyncMarkerSource tags the synthetic entry a target's pending list is
// replaced with once it overflows (spec.md §4.4: "overflow replaces the
// list with a single synthetic 'full resync required' marker").
const fullResyncMarkerSource = "__full_resync_required__"

// FullResyncMarker builds the synthetic pending entry used in place of an
// overflowed change list.
func FullResyncMarker(timestamp int64) FileChangeInfo {
	return FileChangeInfo{
		Type:         ChangeModify,
		SourceTarget: fullResyncMarkerSource,
		Timestamp:    timestamp,
	}
}

// IsFullResyncMarker reports whether info is the synthetic overflow marker
// produced by FullResyncMarker.
func IsFullResyncMarker(info FileChangeInfo) bool {
	return info.SourceTarget == fullResyncMarkerSource
}
