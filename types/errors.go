//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for transfer failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrPlanning indicates the size probe was ambiguous. Callers degrade to
	// the unknown-size plan instead of failing.
	ErrPlanning = errors.New("planning error")

	// ErrFetchFailed indicates a part could not be fetched.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrAssemblyIncomplete indicates a missing, empty or short part.
	ErrAssemblyIncomplete = errors.New("assembly incomplete")

	// ErrNormalizationFailed indicates codec inspection, remux or transcode failed.
	ErrNormalizationFailed = errors.New("normalization failed")

	// ErrPackagingFailed indicates an I/O failure while splitting, or a
	// re-encode failure (which is recovered by splitting).
	ErrPackagingFailed = errors.New("packaging failed")

	// ErrDeliveryFailed indicates an upload error.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// TransferError wraps an underlying error with its classification and the
// pipeline state in which it happened.
type TransferError struct {
	// Kind is the sentinel error for classification (e.g., ErrFetchFailed).
	Kind error
	// Stage is the pipeline state that failed.
	Stage TransferState
	// Detail is a short human-readable context string, if any.
	Detail string
	// Err is the underlying error.
	Err error
}

func (e *TransferError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %v: %s: %v", e.Stage, e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *TransferError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *TransferError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewTransferError creates a classified transfer error.
func NewTransferError(kind error, stage TransferState, detail string, err error) *TransferError {
	if err == nil {
		err = kind
	}
	return &TransferError{
		Kind:   kind,
		Stage:  stage,
		Detail: detail,
		Err:    err,
	}
}

// KindOf returns the sentinel classification of err, or nil when err is not
// a TransferError.
func KindOf(err error) error {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Kind
	}
	return nil
}
