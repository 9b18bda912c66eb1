package persistence

import (
	"errors"
	"fmt"
)

var (
	ErrPersistence     = errors.New("persistence failure")
	ErrCorruptSnapshot = errors.New("snapshot checksum mismatch")
)

// PersistenceError is a failed snapshot write. The document stays dirty and
// its in-memory state is kept.
type PersistenceError struct {
	DocumentID string
	Attempt    int
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist document %s (attempt %d): %v", e.DocumentID, e.Attempt, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
