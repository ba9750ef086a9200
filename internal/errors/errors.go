// Package errors defines the typed error hierarchy for cstcache.
//
// Every error that can cross a package boundary is a concrete struct with an
// Error() and Unwrap() method, carrying enough context (path, hash, offset)
// that a caller can log it without a second lookup. Callers use errors.As to
// recover the concrete type when they need to branch on it.
package errors

import (
	"fmt"
	"time"
)

// ErrorType classifies an error for logging and metrics.
type ErrorType string

const (
	ErrorTypeCorruptTopology ErrorType = "corrupt_topology"
	ErrorTypeCorruptDelta    ErrorType = "corrupt_delta"
	ErrorTypeCorruptBytecode ErrorType = "corrupt_bytecode"
	ErrorTypeVersion         ErrorType = "version_unsupported"
	ErrorTypeCapacity        ErrorType = "capacity_exceeded"
	ErrorTypeIOTimeout       ErrorType = "io_timeout"
	ErrorTypeStaleEntry      ErrorType = "stale_entry"
	ErrorTypeConfig          ErrorType = "config"
)

// CorruptTopologyError reports a balanced-parentheses or bit-primitive
// structure that failed its soundness check (unbalanced parens, rank/select
// index out of range, CRC mismatch on the packed arrays).
type CorruptTopologyError struct {
	Path       string
	Offset     int64
	Reason     string
	Underlying error
	Timestamp  time.Time
}

func NewCorruptTopologyError(path string, offset int64, reason string, err error) *CorruptTopologyError {
	return &CorruptTopologyError{Path: path, Offset: offset, Reason: reason, Underlying: err, Timestamp: time.Now()}
}

func (e *CorruptTopologyError) Error() string {
	return fmt.Sprintf("corrupt topology in %s at offset %d: %s: %v", e.Path, e.Offset, e.Reason, e.Underlying)
}

func (e *CorruptTopologyError) Unwrap() error { return e.Underlying }

// CorruptDeltaError reports a delta entry whose CRC32 trailer does not match
// its residual bytes, or whose base chunk hashes are missing from the
// ChunkStore.
type CorruptDeltaError struct {
	Hash       string
	Reason     string
	Underlying error
	Timestamp  time.Time
}

func NewCorruptDeltaError(hash, reason string, err error) *CorruptDeltaError {
	return &CorruptDeltaError{Hash: hash, Reason: reason, Underlying: err, Timestamp: time.Now()}
}

func (e *CorruptDeltaError) Error() string {
	return fmt.Sprintf("corrupt delta entry %s: %s: %v", e.Hash, e.Reason, e.Underlying)
}

func (e *CorruptDeltaError) Unwrap() error { return e.Underlying }

// CorruptBytecodeError reports a bytecode stream whose opcode stream could
// not be decoded: an unknown opcode, a checkpoint pointing outside the
// segment, or a jump-table entry inconsistent with the segment length.
type CorruptBytecodeError struct {
	SegmentIndex int
	ByteOffset   int
	Reason       string
	Underlying   error
	Timestamp    time.Time
}

func NewCorruptBytecodeError(segmentIndex, byteOffset int, reason string, err error) *CorruptBytecodeError {
	return &CorruptBytecodeError{SegmentIndex: segmentIndex, ByteOffset: byteOffset, Reason: reason, Underlying: err, Timestamp: time.Now()}
}

func (e *CorruptBytecodeError) Error() string {
	return fmt.Sprintf("corrupt bytecode in segment %d at byte %d: %s: %v", e.SegmentIndex, e.ByteOffset, e.Reason, e.Underlying)
}

func (e *CorruptBytecodeError) Unwrap() error { return e.Underlying }

// VersionUnsupportedError reports an on-disk format whose version tag this
// build does not know how to read.
type VersionUnsupportedError struct {
	Magic   string
	Got     uint32
	Wanted  uint32
	Path    string
}

func NewVersionUnsupportedError(magic, path string, got, wanted uint32) *VersionUnsupportedError {
	return &VersionUnsupportedError{Magic: magic, Path: path, Got: got, Wanted: wanted}
}

func (e *VersionUnsupportedError) Error() string {
	return fmt.Sprintf("%s: unsupported %s version %d (this build reads %d)", e.Path, e.Magic, e.Got, e.Wanted)
}

// CapacityExceededError reports a budget violation: the memory budget, a
// tier's byte allocation, the journal's max edit count, or the interner's
// byte cap.
type CapacityExceededError struct {
	Resource string
	Used     int64
	Limit    int64
}

func NewCapacityExceededError(resource string, used, limit int64) *CapacityExceededError {
	return &CapacityExceededError{Resource: resource, Used: used, Limit: limit}
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("%s capacity exceeded: used %d, limit %d", e.Resource, e.Used, e.Limit)
}

// IoTimeoutError reports a disk operation (frozen-tier read/write) that did
// not complete within its context deadline.
type IoTimeoutError struct {
	Path       string
	Operation  string
	Underlying error
}

func NewIoTimeoutError(op, path string, err error) *IoTimeoutError {
	return &IoTimeoutError{Operation: op, Path: path, Underlying: err}
}

func (e *IoTimeoutError) Error() string {
	return fmt.Sprintf("io timeout during %s of %s: %v", e.Operation, e.Path, e.Underlying)
}

func (e *IoTimeoutError) Unwrap() error { return e.Underlying }

// StaleEntryError reports a cache lookup whose stored source hash does not
// match the caller-supplied hash: the entry exists but was built from a
// different version of the source.
type StaleEntryError struct {
	Key      string
	Stored   uint64
	Expected uint64
}

func NewStaleEntryError(key string, stored, expected uint64) *StaleEntryError {
	return &StaleEntryError{Key: key, Stored: stored, Expected: expected}
}

func (e *StaleEntryError) Error() string {
	return fmt.Sprintf("stale entry %s: stored hash %x, expected %x", e.Key, e.Stored, e.Expected)
}

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Underlying: err, Timestamp: time.Now()}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

func (e *ConfigError) Unwrap() error { return e.Underlying }

// MultiError aggregates independent failures, e.g. per-entry scan errors
// during ManageTiers where one bad entry should not abort the whole pass.
type MultiError struct {
	Errors []error
}

func NewMultiError(errs []error) *MultiError {
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

func (e *MultiError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "no errors"
	case 1:
		return e.Errors[0].Error()
	default:
		return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
	}
}

func (e *MultiError) Unwrap() []error { return e.Errors }

// HasErrors reports whether the aggregate carries any error.
func (e *MultiError) HasErrors() bool { return len(e.Errors) > 0 }
