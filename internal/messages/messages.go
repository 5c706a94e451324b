package messages

import (
	"fmt"
	"strings"

	"github.com/model-forge/model-forge/pkg/api"
)

// This package provides all the error messages that are reported to the user.
// Note that we add a comment with the message parameters so that it is possible
// to see the parameters in the IDE when creating an error message.
var (
	// Dataset acquisition

	// DatasetUnavailable The dataset {{.Dataset}} could not be acquired: '{{.Error}}'.
	DatasetUnavailable = createMessage(
		api.ErrorKindDatasetUnavailable,
		"The dataset {{.Dataset}} could not be acquired: '{{.Error}}'.",
	)

	// DatasetManifestMissing The dataset at {{.Location}} does not contain a {{.Manifest}} manifest.
	DatasetManifestMissing = createMessage(
		api.ErrorKindDatasetUnavailable,
		"The dataset at {{.Location}} does not contain a {{.Manifest}} manifest.",
	)

	// DatasetManifestInvalid The dataset manifest {{.Manifest}} is invalid: '{{.Error}}'.
	DatasetManifestInvalid = createMessage(
		api.ErrorKindDatasetUnavailable,
		"The dataset manifest {{.Manifest}} is invalid: '{{.Error}}'.",
	)

	// ModelNotFound The model file {{.Path}} was not found.
	ModelNotFound = createMessage(
		api.ErrorKindModelNotFound,
		"The model file {{.Path}} was not found.",
	)

	// ModelUnreadable The model file {{.Path}} could not be read: '{{.Error}}'.
	ModelUnreadable = createMessage(
		api.ErrorKindModelNotFound,
		"The model file {{.Path}} could not be read: '{{.Error}}'.",
	)

	// Training, evaluation and export

	// TrainingFailed The training run {{.RunName}} failed: '{{.Error}}'.
	TrainingFailed = createMessage(
		api.ErrorKindTrainingFailure,
		"The training run {{.RunName}} failed: '{{.Error}}'.",
	)

	// TrainingConfigInvalid The training configuration is invalid: '{{.Error}}'.
	TrainingConfigInvalid = createMessage(
		api.ErrorKindTrainingFailure,
		"The training configuration is invalid: '{{.Error}}'.",
	)

	// EvaluationFailed The evaluation of {{.Path}} failed: '{{.Error}}'.
	EvaluationFailed = createMessage(
		api.ErrorKindEvaluationFailure,
		"The evaluation of {{.Path}} failed: '{{.Error}}'.",
	)

	// ExportFailed The export of {{.Path}} to the portable graph format failed: '{{.Error}}'.
	ExportFailed = createMessage(
		api.ErrorKindExportFailure,
		"The export of {{.Path}} to the portable graph format failed: '{{.Error}}'.",
	)

	// Graph optimization

	// OptimizationFailed The optimization of {{.Path}} failed: '{{.Error}}'.
	OptimizationFailed = createMessage(
		api.ErrorKindOptimizationFailure,
		"The optimization of {{.Path}} failed: '{{.Error}}'.",
	)

	// QuantizationFailed The quantization of {{.Path}} failed: '{{.Error}}'.
	QuantizationFailed = createMessage(
		api.ErrorKindQuantizationFailure,
		"The quantization of {{.Path}} failed: '{{.Error}}'.",
	)

	// FallbackCopyFailed The unmodified copy of {{.Path}} to {{.Destination}} failed: '{{.Error}}'.
	FallbackCopyFailed = createMessage(
		api.ErrorKindOptimizationFailure,
		"The unmodified copy of {{.Path}} to {{.Destination}} failed: '{{.Error}}'.",
	)

	// QuantizedCopyFailed The unmodified copy of {{.Path}} to {{.Destination}} failed: '{{.Error}}'.
	QuantizedCopyFailed = createMessage(
		api.ErrorKindQuantizationFailure,
		"The unmodified copy of {{.Path}} to {{.Destination}} failed: '{{.Error}}'.",
	)

	// OutputOverwritesInput The output {{.Path}} would overwrite the input model.
	OutputOverwritesInput = createMessage(
		api.ErrorKindConfigurationFailure,
		"The output {{.Path}} would overwrite the input model.",
	)

	// BenchmarkFailed The benchmark of {{.Path}} failed: '{{.Error}}'.
	BenchmarkFailed = createMessage(
		api.ErrorKindBenchmarkFailure,
		"The benchmark of {{.Path}} failed: '{{.Error}}'.",
	)

	// Publishing

	// PublishFailed The artifact {{.Path}} could not be published to {{.Destination}}: '{{.Error}}'.
	PublishFailed = createMessage(
		api.ErrorKindPublishFailure,
		"The artifact {{.Path}} could not be published to {{.Destination}}: '{{.Error}}'.",
	)

	// Configuration related errors

	// ConfigurationFailed The pipeline configuration is invalid: '{{.Error}}'.
	ConfigurationFailed = createMessage(
		api.ErrorKindConfigurationFailure,
		"The pipeline configuration is invalid: '{{.Error}}'.",
	)

	// UnknownError An unknown error occurred: '{{.Error}}'. This is a fallback error if the error is not a pipeline error.
	UnknownError = createMessage(
		api.ErrorKindConfigurationFailure,
		"An unknown error occurred: '{{.Error}}'.",
	)
)

type MessageCode struct {
	kind api.ErrorKind
	one  string
}

func (m *MessageCode) GetKind() api.ErrorKind {
	return m.kind
}

func (m *MessageCode) GetMessage() string {
	return m.one
}

func createMessage(kind api.ErrorKind, one string) *MessageCode {
	return &MessageCode{
		kind,
		one,
	}
}

func GetErrorMessage(messageCode *MessageCode, messageParams ...any) string {
	msg := messageCode.GetMessage()
	for i := 0; i < len(messageParams); i += 2 {
		param := messageParams[i]
		var paramValue any
		if i+1 < len(messageParams) {
			paramValue = messageParams[i+1]
		} else {
			paramValue = "NOT_DEFINED" // this is a placeholder for a missing parameter value - if you see this value then the code needs to be fixed
		}
		msg = strings.ReplaceAll(msg, fmt.Sprintf("{{.%v}}", param), fmt.Sprintf("%v", paramValue))
	}
	return msg
}
