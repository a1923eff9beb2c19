package core

import (
	"fmt"

	"gitlab.com/tozd/go/errors"
)

// Sentinel errors. Root errors are cycle-level, ErrFingerprint is entry-level.
var (
	ErrSourceRoot       = errors.Base("source root unusable")
	ErrReplicaRoot      = errors.Base("replica root unusable")
	ErrFingerprint      = errors.Base("fingerprint failed")
	ErrInvalidInterval  = errors.Base("interval must be positive")
	ErrOverlappingRoots = errors.Base("source and replica overlap")
	ErrLinkCycle        = errors.Base("symlink points back to an enclosing directory")
)

// OperationError represents a failure applying a single operation.
type OperationError struct {
	Operation Operation
	Cause     error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Operation.Type, e.Operation.Path, e.Cause)
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// EntryError represents a failure reading a single tree entry. The entry is
// left out of the current cycle and retried on the next one.
type EntryError struct {
	Path  string
	Cause error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("entry %s: %v", e.Path, e.Cause)
}

func (e *EntryError) Unwrap() error {
	return e.Cause
}
