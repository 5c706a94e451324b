package abstractions

import (
	"github.com/model-forge/model-forge/internal/messages"
	"github.com/model-forge/model-forge/pkg/api"
)

// PipelineError is an interface that represents an error raised by a stage.
// Error() can be used to log the error, Kind() and Stage() drive the
// propagation policy of the orchestrator, MessageCode() and MessageParams()
// can be used to report the error to the user.
type PipelineError interface {
	Error() string                      // This allows this to be used with the error interface
	MessageCode() *messages.MessageCode // The message code to report
	MessageParams() []any               // The parameters to the message code
	Kind() api.ErrorKind                // The error kind
	Stage() api.Stage                   // The stage the error was raised in
	Fatal() bool                        // Whether the pipeline must stop
}
