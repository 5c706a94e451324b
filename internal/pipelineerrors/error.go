package pipelineerrors

import (
	"errors"

	"github.com/model-forge/model-forge/internal/messages"
	"github.com/model-forge/model-forge/pkg/api"
)

type PipelineError struct {
	messageCode   *messages.MessageCode
	messageParams []any
	stage         api.Stage
	cause         error
	escalated     bool
}

func (e *PipelineError) Error() string {
	return messages.GetErrorMessage(e.messageCode, e.messageParams...)
}

func (e *PipelineError) Unwrap() error {
	return e.cause
}

func (e *PipelineError) MessageCode() *messages.MessageCode {
	return e.messageCode
}

func (e *PipelineError) MessageParams() []any {
	return e.messageParams
}

func (e *PipelineError) Kind() api.ErrorKind {
	return e.messageCode.GetKind()
}

func (e *PipelineError) Stage() api.Stage {
	return e.stage
}

// Fatal reports whether the error stops the pipeline. Errors of a recoverable kind
// are fatal once escalated, e.g. when the fallback of a stage failed as well.
func (e *PipelineError) Fatal() bool {
	return e.escalated || e.Kind().Fatal()
}

// Escalate returns a copy that is fatal regardless of its kind
func (e *PipelineError) Escalate() *PipelineError {
	c := *e
	c.escalated = true
	return &c
}

// MessageInfo returns the error in the form stored with a failed run.
func (e *PipelineError) MessageInfo() *api.MessageInfo {
	return &api.MessageInfo{
		Message:     e.Error(),
		MessageCode: string(e.Kind()),
	}
}

func NewPipelineError(messageCode *messages.MessageCode, messageParams ...any) *PipelineError {
	return &PipelineError{
		messageCode:   messageCode,
		messageParams: messageParams,
	}
}

// WithCause returns a copy that wraps the underlying error
func (e *PipelineError) WithCause(cause error) *PipelineError {
	c := *e
	c.cause = cause
	return &c
}

// InStage returns a copy bound to the stage the error was raised in
func (e *PipelineError) InStage(stage api.Stage) *PipelineError {
	c := *e
	c.stage = stage
	return &c
}

// FromError converts any error into a pipeline error for the stage. Errors that
// already are pipeline errors keep their kind.
func FromError(err error, stage api.Stage) *PipelineError {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		if pe.stage == "" {
			return pe.InStage(stage)
		}
		return pe
	}
	return NewPipelineError(messages.UnknownError, "Error", err.Error()).WithCause(err).InStage(stage)
}

// KindOf returns the kind of a pipeline error, or an empty kind for other errors.
func KindOf(err error) api.ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind()
	}
	return ""
}
