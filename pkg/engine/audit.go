package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openfroyo/inspector/pkg/stores"
	"github.com/openfroyo/inspector/pkg/telemetry"
	"github.com/rs/zerolog"
)

// Event types written to the audit trail. Per-host results are left out;
// they live on the execution record.
var auditedEvents = []string{
	telemetry.EventTypeExecutionStarted,
	telemetry.EventTypeExecutionCompleted,
	telemetry.EventTypeExecutionFailed,
	telemetry.EventTypePolicyViolation,
	telemetry.EventTypeHostRegistered,
	telemetry.EventTypeHostDeleted,
	telemetry.EventTypeScriptUploaded,
	telemetry.EventTypeScriptDeleted,
}

// AuditLog persists service events and prunes old entries.
type AuditLog struct {
	store     stores.Store
	retention time.Duration
	logger    zerolog.Logger
}

// NewAuditLog creates an audit log. A zero retention keeps entries forever.
func NewAuditLog(store stores.Store, retention time.Duration, logger zerolog.Logger) *AuditLog {
	return &AuditLog{
		store:     store,
		retention: retention,
		logger:    logger.With().Str("component", "audit").Logger(),
	}
}

// Attach subscribes the log to events.
func (a *AuditLog) Attach(events *telemetry.EventPublisher) {
	events.Subscribe(a.Record, telemetry.FilterByType(auditedEvents...))
}

// Record writes one event as an audit entry.
func (a *AuditLog) Record(event telemetry.Event) {
	entry := &stores.AuditEntry{
		Action:    event.Type,
		Actor:     event.Actor,
		Timestamp: event.Timestamp,
	}
	if entry.Actor == "" {
		entry.Actor = event.Source
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	target := event.ResourceID
	if target == "" {
		target = event.ExecutionID
	}
	if target != "" {
		entry.TargetID = &target
	}

	details := map[string]interface{}{"message": event.Message}
	for k, v := range event.Data {
		details[k] = v
	}
	if data, err := json.Marshal(details); err == nil {
		s := string(data)
		entry.Details = &s
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.CreateAuditEntry(ctx, entry); err != nil {
		a.logger.Warn().Err(err).Str("action", event.Type).Msg("Failed to write audit entry")
	}
}

// List returns audit entries, newest first, optionally filtered by action.
func (a *AuditLog) List(ctx context.Context, action string, limit, offset int) ([]*stores.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		return nil, NewValidationError("offset must not be negative")
	}

	var filter *string
	if action != "" {
		filter = &action
	}
	return a.store.ListAuditEntries(ctx, filter, limit, offset)
}

// Prune deletes entries older than the retention window.
func (a *AuditLog) Prune(ctx context.Context) (int64, error) {
	if a.retention <= 0 {
		return 0, nil
	}
	return a.store.PruneAuditEntries(ctx, time.Now().Add(-a.retention))
}

// RunPruner prunes on every interval until ctx is done.
func (a *AuditLog) RunPruner(ctx context.Context, interval time.Duration) {
	if a.retention <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.Prune(ctx)
			if err != nil {
				a.logger.Error().Err(err).Msg("Audit pruning failed")
				continue
			}
			if n > 0 {
				a.logger.Info().Int64("removed", n).Msg("Pruned audit entries")
			}
		}
	}
}
