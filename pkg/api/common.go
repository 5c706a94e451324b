package api

import (
	"fmt"
	"time"
)

// ------------------------------------------------------------------------------------------------
// General naming conventions:
// ------------------------------------------------------------------------------------------------
// - ...Config - represents the inputs of a stage, fixed once the run starts.
// - ...Ref - represents a reference to an external object (dataset, model).
// - ...Report - represents a measurement produced by a stage, printed and logged.
// - ...Resource - represents an object stored in the run store.
// ------------------------------------------------------------------------------------------------

// DeviceKind is the execution device requested for training and inference
type DeviceKind string

const (
	DeviceCPU DeviceKind = "cpu"
	DeviceGPU DeviceKind = "gpu"
)

func (d DeviceKind) String() string {
	return string(d)
}

func GetDeviceKind(s string) (DeviceKind, error) {
	switch s {
	case string(DeviceCPU):
		return DeviceCPU, nil
	case string(DeviceGPU), "cuda":
		return DeviceGPU, nil
	default:
		return DeviceKind(s), fmt.Errorf("invalid device kind: %s", s)
	}
}

// ExecutionResources is the device claim handed to the training and benchmark stages.
// It is acquired for the duration of one stage and released afterwards.
type ExecutionResources struct {
	Device      DeviceKind `json:"device"`
	DeviceName  string     `json:"device_name,omitempty"`
	WorkerCount int        `json:"worker_count"`
	CPUFeatures []string   `json:"cpu_features,omitempty"`
}

// MessageInfo represents a message attached to a failed run
type MessageInfo struct {
	Message     string `json:"message"`
	MessageCode string `json:"message_code"`
}

// for marshalling and unmarshalling
type DateTime string

func DateTimeToString(date time.Time) DateTime {
	return DateTime(date.Format("2006-01-02T15:04:05Z07:00"))
}

func DateTimeFromString(date DateTime) (time.Time, error) {
	return time.Parse("2006-01-02T15:04:05Z07:00", string(date))
}

// Resource represents base fields of a stored object
type Resource struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Page represents generic pagination schema
type Page struct {
	Limit      int `json:"limit"`
	Offset     int `json:"offset"`
	TotalCount int `json:"total_count"`
}

// EnvVar captures environment variables for runner jobs.
type EnvVar struct {
	Name  string `mapstructure:"name" yaml:"name"`
	Value string `mapstructure:"value" yaml:"value"`
}
