package shareddoc

import (
	"errors"
	"fmt"
)

var (
	ErrAddressing       = errors.New("addressing error")
	ErrMergeApplication = errors.New("merge application error")
)

const (
	ReasonOutOfBounds      = "out_of_bounds"
	ReasonInverted         = "inverted"
	ReasonUnknownTag       = "unknown_tag"
	ReasonDocumentMismatch = "document_mismatch"
)

// AddressingError rejects a highlight whose offsets do not address the
// document's character sequence. It is reported to the originator only.
type AddressingError struct {
	HighlightID string
	Start       int
	End         int
	Length      int
	Reason      string
}

func (e *AddressingError) Error() string {
	return fmt.Sprintf("highlight %s [%d,%d) rejected for length %d: %s", e.HighlightID, e.Start, e.End, e.Length, e.Reason)
}

func (e *AddressingError) Is(target error) bool {
	return target == ErrAddressing
}

// MergeApplicationError wraps a delta that could not be decoded or applied.
// The delta is dropped and the replica keeps going.
type MergeApplicationError struct {
	Err error
}

func (e *MergeApplicationError) Error() string {
	return fmt.Sprintf("merge application failed: %v", e.Err)
}

func (e *MergeApplicationError) Unwrap() error {
	return e.Err
}

func (e *MergeApplicationError) Is(target error) bool {
	return target == ErrMergeApplication
}
