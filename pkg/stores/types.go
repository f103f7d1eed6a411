package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RunStatus represents the status of a recorded operation
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelInfo  EventLevel = "info"
	EventLevelError EventLevel = "error"
)

// ModuleState is the persisted lifecycle state of one module.
type ModuleState struct {
	Module           string    `json:"module"`
	Built            bool      `json:"built"`
	RanAllMigrations bool      `json:"ran_all_migrations"`
	RanMigrations    []string  `json:"ran_migrations"` // sorted
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Run represents one top-level operation (start, build, migrate...)
type Run struct {
	ID          string     `json:"id"`
	Operation   string     `json:"operation"`
	Target      string     `json:"target"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// Event represents an append-only record of an applied change
type Event struct {
	ID         int64      `json:"id"`
	RunID      *string    `json:"run_id,omitempty"`
	Level      EventLevel `json:"level"`
	Change     string     `json:"change"`
	Target     string     `json:"target"`
	Message    string     `json:"message"`
	DurationMS int64      `json:"duration_ms"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Store defines the interface for persistence operations
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Module state
	GetModuleState(ctx context.Context, module string) (*ModuleState, error)
	SaveModuleState(ctx context.Context, state *ModuleState) error
	ListModuleStates(ctx context.Context) ([]*ModuleState, error)
	ResetModuleState(ctx context.Context, module string) error

	// Run ledger
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, id string, status RunStatus, errMsg *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)

	// Event log
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Health check
	HealthCheck(ctx context.Context) error
}
