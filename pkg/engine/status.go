package engine

import (
	"encoding/json"
	"fmt"
)

// ProcessStatus represents the observed state of a service process.
type ProcessStatus string

const (
	// ProcessStatusUnknown indicates the process has never been observed.
	ProcessStatusUnknown ProcessStatus = "unknown"

	// ProcessStatusOnline indicates the process is running.
	ProcessStatusOnline ProcessStatus = "online"

	// ProcessStatusOffline indicates the process is known but not running.
	ProcessStatusOffline ProcessStatus = "offline"
)

// IsOnline returns true if the process is running.
func (s ProcessStatus) IsOnline() bool {
	return s == ProcessStatusOnline
}

// Validate checks if the process status is valid.
func (s ProcessStatus) Validate() error {
	switch s {
	case ProcessStatusUnknown, ProcessStatusOnline, ProcessStatusOffline:
		return nil
	default:
		return fmt.Errorf("invalid process status: %s", s)
	}
}

// String implements fmt.Stringer. The zero value reads as unknown.
func (s ProcessStatus) String() string {
	if s == "" {
		return string(ProcessStatusUnknown)
	}
	return string(s)
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s ProcessStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *ProcessStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ProcessStatus(str)
	return s.Validate()
}

// RunStatus represents the outcome of one top-level operation.
type RunStatus string

const (
	// RunStatusRunning indicates the operation is still applying effects.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every staged effect was applied.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the operation aborted on an error.
	RunStatusFailed RunStatus = "failed"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// Operation names the top-level operations exposed to the driver layer.
type Operation string

const (
	OperationStart   Operation = "start"
	OperationStop    Operation = "stop"
	OperationBuild   Operation = "build"
	OperationMigrate Operation = "migrate"
	OperationValue   Operation = "value"
	OperationList    Operation = "list"
	OperationRun     Operation = "run"
)
