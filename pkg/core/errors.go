package core

import (
	"fmt"
	"strings"
)

// ErrorKind classifies errors reported in a PairResult.
type ErrorKind string

// Error kinds.
const (
	ErrKindCollection    ErrorKind = "CollectionError"
	ErrKindNormalization ErrorKind = "NormalizationError"
	ErrKindCycle         ErrorKind = "CycleDetected"
	ErrKindWrite         ErrorKind = "WriteError"
	ErrKindCancelled     ErrorKind = "Cancelled"
	ErrKindInternal      ErrorKind = "InternalError"
)

// PairLevel reports whether the kind fails the whole pair.
// Normalization errors only drop a record.
func (k ErrorKind) PairLevel() bool {
	return k != ErrKindNormalization
}

// CollectionError is returned when raw records for a pair cannot be retrieved.
type CollectionError struct {
	Pair    Pair
	Timeout bool
	Err     error
}

func (e *CollectionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("collect %s: timed out: %v", e.Pair, e.Err)
	}
	return fmt.Sprintf("collect %s: %v", e.Pair, e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }

// NormalizationError rejects a single raw record.
type NormalizationError struct {
	JobID  string
	Table  string
	Reason string
}

func (e *NormalizationError) Error() string {
	switch {
	case e.JobID != "":
		return fmt.Sprintf("job %s: %s", e.JobID, e.Reason)
	case e.Table != "":
		return fmt.Sprintf("table %s: %s", e.Table, e.Reason)
	default:
		return e.Reason
	}
}

// CycleDetectedError names the nodes that take part in dependency cycles.
type CycleDetectedError struct {
	Pair  Pair
	Nodes []NodeID
}

func (e *CycleDetectedError) Error() string {
	names := make([]string, len(e.Nodes))
	for i, n := range e.Nodes {
		names[i] = n.String()
	}
	return fmt.Sprintf("cycle detected in %s: %s", e.Pair, strings.Join(names, ", "))
}

// WriteError is returned by emitters when a file cannot be written.
type WriteError struct {
	Pair Pair
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s (%s): %v", e.Path, e.Pair, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
