package workspace

import (
	"context"
	"fmt"
	"time"

	"github.com/modctl/modctl/pkg/engine"
	"github.com/modctl/modctl/pkg/stores"
)

// Recorder writes the engine's run ledger into the state store.
type Recorder struct {
	store stores.Store
}

// NewRecorder creates a recorder backed by store.
func NewRecorder(store stores.Store) *Recorder {
	return &Recorder{store: store}
}

// BeginRun inserts a running ledger entry.
func (r *Recorder) BeginRun(ctx context.Context, run *engine.RunRecord) error {
	return r.store.CreateRun(ctx, &stores.Run{
		ID:        run.ID,
		Operation: string(run.Operation),
		Target:    run.Target,
		Status:    stores.RunStatusRunning,
		StartedAt: run.StartedAt,
	})
}

// EndRun records the outcome of a run. The status must be terminal.
func (r *Recorder) EndRun(ctx context.Context, run *engine.RunRecord) error {
	if !run.Status.IsTerminal() {
		return fmt.Errorf("run %s cannot end with status %s", run.ID, run.Status)
	}
	var errMsg *string
	if run.Error != "" {
		errMsg = &run.Error
	}
	return r.store.FinishRun(ctx, run.ID, stores.RunStatus(run.Status), errMsg)
}

// RecordEffect appends one applied change to the event log.
func (r *Recorder) RecordEffect(ctx context.Context, effect *engine.EffectRecord) error {
	event := &stores.Event{
		Level:      stores.EventLevelInfo,
		Change:     effect.Change,
		Target:     effect.Target,
		Message:    "applied",
		DurationMS: effect.Duration.Milliseconds(),
		Timestamp:  effect.Timestamp,
	}
	if effect.RunID != "" {
		runID := effect.RunID
		event.RunID = &runID
	}
	if effect.Error != "" {
		event.Level = stores.EventLevelError
		event.Message = effect.Error
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return r.store.AppendEvent(ctx, event)
}

var _ engine.Recorder = (*Recorder)(nil)
