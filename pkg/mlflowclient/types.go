package mlflowclient

import (
	"errors"
	"fmt"
)

// Error codes returned by the tracking server
const (
	ErrorCodeResourceDoesNotExist  = "RESOURCE_DOES_NOT_EXIST"
	ErrorCodeResourceAlreadyExists = "RESOURCE_ALREADY_EXISTS"
	ErrorCodeInvalidParameterValue = "INVALID_PARAMETER_VALUE"
)

// Lifecycle stages of experiments and runs
const (
	LifecycleStageActive  = "active"
	LifecycleStageDeleted = "deleted"
)

// RunStatus is the status of a tracked run
type RunStatus string

const (
	RunStatusRunning  RunStatus = "RUNNING"
	RunStatusFinished RunStatus = "FINISHED"
	RunStatusFailed   RunStatus = "FAILED"
	RunStatusKilled   RunStatus = "KILLED"
)

type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TagsFromMap converts a map to tags, skipping empty keys.
func TagsFromMap(m map[string]string) []Tag {
	if len(m) == 0 {
		return nil
	}
	tags := make([]Tag, 0, len(m))
	for k, v := range m {
		if k == "" {
			continue
		}
		tags = append(tags, Tag{Key: k, Value: v})
	}
	return tags
}

// Experiments

type Experiment struct {
	ExperimentID     string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location,omitempty"`
	LifecycleStage   string `json:"lifecycle_stage,omitempty"`
	LastUpdateTime   int64  `json:"last_update_time,omitempty"`
	CreationTime     int64  `json:"creation_time,omitempty"`
	Tags             []Tag  `json:"tags,omitempty"`
}

type CreateExperimentRequest struct {
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location,omitempty"`
	Tags             []Tag  `json:"tags,omitempty"`
}

type CreateExperimentResponse struct {
	ExperimentID string `json:"experiment_id"`
}

type GetExperimentResponse struct {
	Experiment Experiment `json:"experiment"`
}

// Runs

type RunInfo struct {
	RunID          string    `json:"run_id"`
	RunName        string    `json:"run_name,omitempty"`
	ExperimentID   string    `json:"experiment_id"`
	Status         RunStatus `json:"status,omitempty"`
	StartTime      int64     `json:"start_time,omitempty"`
	EndTime        int64     `json:"end_time,omitempty"`
	ArtifactURI    string    `json:"artifact_uri,omitempty"`
	LifecycleStage string    `json:"lifecycle_stage,omitempty"`
}

type Metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type RunData struct {
	Metrics []Metric `json:"metrics,omitempty"`
	Params  []Param  `json:"params,omitempty"`
	Tags    []Tag    `json:"tags,omitempty"`
}

type Run struct {
	Info RunInfo `json:"info"`
	Data RunData `json:"data"`
}

type CreateRunRequest struct {
	ExperimentID string `json:"experiment_id"`
	RunName      string `json:"run_name,omitempty"`
	StartTime    int64  `json:"start_time,omitempty"`
	Tags         []Tag  `json:"tags,omitempty"`
}

type CreateRunResponse struct {
	Run Run `json:"run"`
}

type GetRunResponse struct {
	Run Run `json:"run"`
}

type UpdateRunRequest struct {
	RunID   string    `json:"run_id"`
	Status  RunStatus `json:"status,omitempty"`
	EndTime int64     `json:"end_time,omitempty"`
	RunName string    `json:"run_name,omitempty"`
}

type UpdateRunResponse struct {
	RunInfo RunInfo `json:"run_info"`
}

type LogBatchRequest struct {
	RunID   string   `json:"run_id"`
	Metrics []Metric `json:"metrics,omitempty"`
	Params  []Param  `json:"params,omitempty"`
	Tags    []Tag    `json:"tags,omitempty"`
}

// Errors

// MLFlowError is the error body returned by the tracking server
type MLFlowError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// APIError is returned for every non 2xx response
type APIError struct {
	StatusCode   int
	ResponseBody string
	MLFlowError  *MLFlowError
}

func (e *APIError) Error() string {
	if e.MLFlowError != nil && e.MLFlowError.ErrorCode != "" {
		return fmt.Sprintf("MLFlow API error (status %d): %s: %s", e.StatusCode, e.MLFlowError.ErrorCode, e.MLFlowError.Message)
	}
	return fmt.Sprintf("MLFlow API error (status %d): %s", e.StatusCode, e.ResponseBody)
}

func hasErrorCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.MLFlowError != nil && apiErr.MLFlowError.ErrorCode == code
	}
	return false
}

// IsResourceDoesNotExistError reports whether the server did not find the requested resource
func IsResourceDoesNotExistError(err error) bool {
	return hasErrorCode(err, ErrorCodeResourceDoesNotExist)
}

// IsResourceAlreadyExistsError reports whether the server refused to create a duplicate
func IsResourceAlreadyExistsError(err error) bool {
	return hasErrorCode(err, ErrorCodeResourceAlreadyExists)
}
