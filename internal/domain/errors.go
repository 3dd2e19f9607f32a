package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable marks a source that could not be reached or queried.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrDestinationUnavailable aborts a run: the warehouse cannot be written.
	ErrDestinationUnavailable = errors.New("destination unavailable")
	// ErrMalformedRow is a row level data quality event.
	ErrMalformedRow = errors.New("malformed row")
	// ErrChunkWriteFailure marks a chunk the warehouse rejected.
	ErrChunkWriteFailure = errors.New("chunk write failure")
	// ErrModelsUnavailable is returned while the classifier runs without models.
	ErrModelsUnavailable = errors.New("models unavailable")
	// ErrRunInProgress is returned when another refresh holds the run lock.
	ErrRunInProgress = errors.New("another run is in progress")
)

// SourceError ties a failure to the source it happened in.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}
