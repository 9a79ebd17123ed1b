package descriptor

import "errors"

var (
	// ErrInvalidDescriptor indicates the descriptor is structurally invalid
	ErrInvalidDescriptor = errors.New("invalid build descriptor")
	// ErrEntryNotFound indicates the entry point does not exist, the build cannot start
	ErrEntryNotFound = errors.New("entry point not found")
	// ErrAliasTargetMissing indicates an alias points at a package or file that is not installed
	ErrAliasTargetMissing = errors.New("alias target not found")
)
