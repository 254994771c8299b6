package journal

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed indicates the journal is closed.
	ErrClosed = errors.New("journal: already closed")

	// ErrSyncFailed indicates fsync failed.
	ErrSyncFailed = errors.New("journal: sync to disk failed")

	// ErrChecksumMismatch matches every *ChecksumError.
	ErrChecksumMismatch = errors.New("journal: checksum mismatch")

	// ErrCorrupted matches every *CorruptionError.
	ErrCorrupted = errors.New("journal: file is corrupted")
)

// ChecksumError reports a record whose checksum does not match its content.
type ChecksumError struct {
	Seq      uint64
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("journal: checksum mismatch at seq=%d (expected=0x%08x, got=0x%08x)", e.Seq, e.Expected, e.Actual)
}

// Is matches ErrChecksumMismatch.
func (e *ChecksumError) Is(target error) bool { return target == ErrChecksumMismatch }

// CorruptionError reports an undecodable line.
type CorruptionError struct {
	Offset int64
	Cause  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("journal: corrupted at offset %d: %v", e.Offset, e.Cause)
}

// Is matches ErrCorrupted.
func (e *CorruptionError) Is(target error) bool { return target == ErrCorrupted }

func (e *CorruptionError) Unwrap() error { return e.Cause }
