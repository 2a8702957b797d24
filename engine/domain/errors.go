package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the query path. These surface to the caller as specific,
// actionable failures rather than partial answers.
var (
	// ErrMissingRegion means a spatial or hybrid question arrived with no
	// drawn region and none inferable from the text. The caller should
	// prompt the user to draw a region, not guess one.
	ErrMissingRegion = errors.New("no region selected and none could be inferred")

	// ErrStoreUnavailable marks a store failure during a batch commit; the
	// whole batch is rejected and rolled back.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrQueryGeneration means the language model failed to produce a valid
	// structured query after one error-feedback retry.
	ErrQueryGeneration = errors.New("could not generate a valid query")

	// ErrRetrievalTimeout marks a query turn aborted on a deadline while
	// waiting on the language model or a store.
	ErrRetrievalTimeout = errors.New("retrieval timed out")

	// ErrVersionMismatch means a query embedding was produced by a different
	// embedding function than the stored vectors; comparing them would
	// silently degrade retrieval quality, so it is rejected.
	ErrVersionMismatch = errors.New("embedding function version mismatch")
)

// Sentinel errors for validation failures.
var (
	ErrCoordinateOutOfRange   = errors.New("coordinate out of range")
	ErrDepthNotMonotonic      = errors.New("depth sequence not monotonically non-decreasing")
	ErrEmptyProfile           = errors.New("profile has no levels")
	ErrMissingFloatID         = errors.New("missing float id")
	ErrRegionTooFewVertices   = errors.New("region needs at least three vertices")
	ErrRegionSelfIntersecting = errors.New("region ring is self-intersecting")
	ErrRegionEmptyInterior    = errors.New("region has an empty interior")
)

// ValidationError wraps a sentinel with field context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// FetchError is a transient failure retrieving a remote source file; the
// batch retries it on the next scheduled tick.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// ConversionError is a per-file parse failure. The file is skipped and
// recorded in the batch audit log; the batch continues.
type ConversionError struct {
	File string
	Err  error
}

func (e *ConversionError) Error() string { return fmt.Sprintf("convert %s: %v", e.File, e.Err) }
func (e *ConversionError) Unwrap() error { return e.Err }

// EmbeddingError is a per-record embedding failure. Only that record is
// excluded from the batch.
type EmbeddingError struct {
	ProfileID string
	Err       error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embed profile %s: %v", e.ProfileID, e.Err)
}
func (e *EmbeddingError) Unwrap() error { return e.Err }
