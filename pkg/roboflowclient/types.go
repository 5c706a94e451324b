package roboflowclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Export is a prepared dataset version bundle
type Export struct {
	Link      string `json:"link"`
	VersionID string `json:"version_id,omitempty"`
}

// RoboflowError is the error document returned by the API
type RoboflowError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type,omitempty"`
		Hint    string `json:"hint,omitempty"`
	} `json:"error"`
}

type APIError struct {
	StatusCode    int
	ResponseBody  string
	RoboflowError *RoboflowError
}

func (e *APIError) Error() string {
	if e.RoboflowError != nil {
		return fmt.Sprintf("roboflow API error (status %d): %s", e.StatusCode, e.RoboflowError.Error.Message)
	}
	return fmt.Sprintf("roboflow API error (status %d): %s", e.StatusCode, e.ResponseBody)
}

// ExportNotReadyError is returned when the version resolved but carries no bundle link
type ExportNotReadyError struct {
	Endpoint string
	Reason   string
}

func (e *ExportNotReadyError) Error() string {
	return fmt.Sprintf("the export at %s is not available: %s", e.Endpoint, e.Reason)
}

// IsNotFoundError reports whether the workspace, project or version does not exist
func IsNotFoundError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}
	return false
}

// IsUnauthorizedError reports whether the API key was rejected
func IsUnauthorizedError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
	}
	return false
}

func redact(err error, secret string) string {
	if secret == "" {
		return err.Error()
	}
	return strings.ReplaceAll(err.Error(), secret, "REDACTED")
}
