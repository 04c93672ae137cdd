package models

import "errors"

// Sentinel errors shared across repositories and services.
var (
	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSegmentNotFound indicates the requested segment does not exist.
	ErrSegmentNotFound = errors.New("segment not found")

	// ErrPipelineRunNotFound indicates the requested pipeline run does not exist.
	ErrPipelineRunNotFound = errors.New("pipeline run not found")

	// ErrInvalidSessionState indicates a lifecycle transition was requested
	// from a state that does not permit it.
	ErrInvalidSessionState = errors.New("invalid session state")

	// ErrAlreadyProcessing indicates the session is currently being processed.
	ErrAlreadyProcessing = errors.New("session is already processing")

	// ErrAlreadyProcessed indicates the session has already been processed.
	ErrAlreadyProcessed = errors.New("session has already been processed")

	// ErrNoSegments indicates a session has no segments to process.
	ErrNoSegments = errors.New("session has no segments")

	// ErrEmptyPayload indicates an ingest request carried no body.
	ErrEmptyPayload = errors.New("empty segment payload")

	// ErrRunNotRetryable indicates a pipeline run replay was requested for
	// a run that did not end in failure.
	ErrRunNotRetryable = errors.New("only failed pipeline runs can be retried")
)
