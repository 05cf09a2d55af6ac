package core

// ChangeType identifies the nature of a detected or applied change.
type ChangeType uint8

const (
	// ChangeCreate indicates a path that was not previously present.
	ChangeCreate ChangeType = iota
	// ChangeModify indicates a path whose content or metadata advanced.
	ChangeModify
	// ChangeDelete indicates a path that is no longer present.
	ChangeDelete
)

// String returns a human-readable name for the change type.
func (t ChangeType) String() string {
	switch t {
	case ChangeCreate:
		return "create"
	case ChangeModify:
		return "modify"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileChangeInfo describes a single detected change without its content. A
// delete has no metadata; create and modify carry the entry's current
// metadata.
type FileChangeInfo struct {
	// Path is the changed entry's path.
	Path Path
	// Type is the nature of the change.
	Type ChangeType
	// Metadata is the entry's current metadata. Nil for deletes.
	Metadata *FileMetadata
	// SourceTarget is the id of the target where the change originated.
	SourceTarget string
	// Timestamp is when the change was detected, in milliseconds since the
	// Unix epoch.
	Timestamp int64
}

// FileChange pairs a FileChangeInfo with the content needed to apply it. The
// Stream field is nil for deletes.
type FileChange struct {
	FileChangeInfo
	// Stream provides the changed file's content, for create/modify changes.
	Stream FileContentStream
}
