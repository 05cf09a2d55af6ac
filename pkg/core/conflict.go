package core

// FileConflict is produced when a peer's existing content differs from the
// hash carried by an incoming change's metadata.
type FileConflict struct {
	// Path is the conflicting entry's path.
	Path Path
	// SourceTarget is the id of the target the incoming change originated
	// from.
	SourceTarget string
	// TargetID is the id of the peer where the conflict was detected.
	TargetID string
	// Timestamp is when the conflict was detected, in milliseconds since the
	// Unix epoch.
	Timestamp int64
}
