// Package core runs a sequence of processing steps for one channel,
// recording every attempt as a PipelineRun row and retrying failures
// with exponential backoff.
package core

import (
	"context"
	"errors"
	"fmt"
)

// StepContext identifies the unit of work. WorkDir holds intermediates
// and is purged after session processing; OutputDir holds the
// deliverables (mp3/, hls/, peaks/).
type StepContext struct {
	SessionID     string
	ChannelNumber int
	WorkDir       string
	OutputDir     string
}

// Step is one unit of the channel pipeline. ShouldRun makes the skip
// decision declaratively; Execute may still skip by returning a
// SkipError when the decision needs work it only discovers mid-flight.
// Cleanup fires on terminal failure only and is best-effort.
type Step interface {
	Name() string
	Description() string
	ShouldRun(ctx context.Context, sc *StepContext, data *Data) (bool, string)
	Execute(ctx context.Context, sc *StepContext, data *Data) (*Data, error)
	Cleanup(ctx context.Context, sc *StepContext, data *Data) error
}

// SkipError signals that a step declined to run from inside Execute.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("step skipped: %s", e.Reason)
}

// Skip builds a SkipError.
func Skip(reason string) error {
	return &SkipError{Reason: reason}
}

// AsSkip extracts a SkipError from err, if any.
func AsSkip(err error) (*SkipError, bool) {
	var skip *SkipError
	if errors.As(err, &skip) {
		return skip, true
	}
	return nil, false
}
