package core

import (
	"fmt"
	"time"
)

// Kind is the type of a filesystem entry in a tree.
type Kind int

const (
	// KindUnknown represents a non-existent or unsupported path
	KindUnknown Kind = iota
	// KindFile represents a regular file (or a link resolving to one)
	KindFile
	// KindDirectory represents a directory
	KindDirectory
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Fingerprint is the hex digest of a file's content. The zero value means
// "no fingerprint", which is what directories carry.
type Fingerprint string

// IsZero reports whether f carries no digest.
func (f Fingerprint) IsZero() bool {
	return f == ""
}

// Entry is one path of a tree, relative to the tree root and slash separated.
type Entry struct {
	Path        string
	Kind        Kind
	Fingerprint Fingerprint
	Size        int64
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Kind == KindDirectory
}

// OperationID uniquely identifies an operation within a plan
type OperationID string

// OpType is the action an operation performs on the replica.
type OpType string

const (
	// OpDelete removes a file, or a directory with everything beneath it
	OpDelete OpType = "delete"
	// OpCreateDirectory creates a directory and any missing ancestors
	OpCreateDirectory OpType = "create_directory"
	// OpCopyFile copies source bytes over the replica path
	OpCopyFile OpType = "copy_file"
)

// Operation is a single planned change to the replica tree.
type Operation struct {
	ID   OperationID
	Type OpType
	Path string
	Kind Kind
}

// NewDelete returns an operation removing the replica entry at path.
func NewDelete(path string, kind Kind) Operation {
	return Operation{ID: newOperationID(OpDelete, path), Type: OpDelete, Path: path, Kind: kind}
}

// NewCreateDirectory returns an operation creating the replica directory at path.
func NewCreateDirectory(path string) Operation {
	return Operation{ID: newOperationID(OpCreateDirectory, path), Type: OpCreateDirectory, Path: path, Kind: KindDirectory}
}

// NewCopyFile returns an operation copying the source file at path to the replica.
func NewCopyFile(path string) Operation {
	return Operation{ID: newOperationID(OpCopyFile, path), Type: OpCopyFile, Path: path, Kind: KindFile}
}

func newOperationID(t OpType, path string) OperationID {
	return OperationID(string(t) + ":" + path)
}

func (op Operation) String() string {
	return fmt.Sprintf("%s(%s)", op.Type, op.Path)
}

// OperationStatus indicates the outcome of an individual operation's execution
type OperationStatus string

const (
	// StatusSuccess indicates the operation completed successfully
	StatusSuccess OperationStatus = "SUCCESS"
	// StatusFailure indicates the operation failed during execution
	StatusFailure OperationStatus = "FAILURE"
	// StatusSkipped indicates the operation was never attempted
	StatusSkipped OperationStatus = "SKIPPED"
)

// OperationResult holds the outcome of a single operation's execution
type OperationResult struct {
	Operation Operation
	Status    OperationStatus
	Error     error
	Duration  time.Duration
	Bytes     int64 // bytes written, copy operations only
}

// Result holds the overall outcome of applying a list of operations
type Result struct {
	Success    bool              // True if all operations were successful
	Operations []OperationResult // Results for each operation, in execution order
	Duration   time.Duration
	Errors     []error // Aggregated errors from operations that failed
	Err        error   // Set when the run stopped early, e.g. on cancellation
}

// Count returns how many operations of type t ended with status.
func (r *Result) Count(t OpType, status OperationStatus) int {
	n := 0
	for _, res := range r.Operations {
		if res.Operation.Type == t && res.Status == status {
			n++
		}
	}
	return n
}

// BytesCopied sums the bytes written by successful copies.
func (r *Result) BytesCopied() int64 {
	var total int64
	for _, res := range r.Operations {
		if res.Status == StatusSuccess {
			total += res.Bytes
		}
	}
	return total
}
