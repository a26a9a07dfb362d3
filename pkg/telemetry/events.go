package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a timeline entry emitted by the service: execution progress and
// inventory or catalog changes.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`

	ExecutionID string `json:"execution_id,omitempty"`
	HostID      string `json:"host_id,omitempty"`

	// ResourceType and ResourceID name the object an event is about
	// (host, script, execution).
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`

	// Actor is the remote address or user that caused the event, if known.
	Actor string `json:"actor,omitempty"`

	Message string                 `json:"message"`
	Level   string                 `json:"level"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

const (
	EventTypeExecutionStarted   = "execution.started"
	EventTypeExecutionCompleted = "execution.completed"
	EventTypeExecutionFailed    = "execution.failed"
	EventTypeHostCompleted      = "host.completed"
	EventTypeHostFailed         = "host.failed"
	EventTypePolicyViolation    = "policy.violation"
	EventTypeHostRegistered     = "host.registered"
	EventTypeHostDeleted        = "host.deleted"
	EventTypeScriptUploaded     = "script.uploaded"
	EventTypeScriptDeleted      = "script.deleted"
)

const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// Resource types carried by events.
const (
	ResourceHost      = "host"
	ResourceScript    = "script"
	ResourceExecution = "execution"
)

// EventSubscriber handles a delivered event.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. In async mode events are
// buffered and delivered in batches from a single goroutine, so each
// subscriber observes events in publish order.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates an event publisher.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish sends an event to all subscribers. A nil publisher discards it.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	if ep.config.EnableAsync {
		select {
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishExecutionStarted publishes an execution start.
func (ep *EventPublisher) PublishExecutionStarted(executionID, scriptID string, hosts int, actor string) error {
	return ep.Publish(Event{
		Type:         EventTypeExecutionStarted,
		Source:       "orchestrator",
		ExecutionID:  executionID,
		ResourceType: ResourceExecution,
		ResourceID:   executionID,
		Actor:        actor,
		Message:      fmt.Sprintf("Execution %s started on %d hosts", executionID, hosts),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"script_id": scriptID,
			"hosts":     hosts,
		},
	})
}

// PublishExecutionFinished publishes a terminal execution status.
func (ep *EventPublisher) PublishExecutionFinished(executionID, scriptID, status string, succeeded, failed int, duration time.Duration, reason string) error {
	event := Event{
		Type:         EventTypeExecutionCompleted,
		Source:       "orchestrator",
		ExecutionID:  executionID,
		ResourceType: ResourceExecution,
		ResourceID:   executionID,
		Message:      fmt.Sprintf("Execution %s finished with status %s", executionID, status),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"script_id": scriptID,
			"status":    status,
			"succeeded": succeeded,
			"failed":    failed,
			"duration":  duration.Seconds(),
		},
	}
	if reason != "" {
		event.Type = EventTypeExecutionFailed
		event.Level = EventLevelError
		event.Message = fmt.Sprintf("Execution %s failed: %s", executionID, reason)
		event.Data["reason"] = reason
	}
	return ep.Publish(event)
}

// PublishHostResult publishes the outcome of one host run.
func (ep *EventPublisher) PublishHostResult(executionID, hostID string, success bool, exitCode int, duration time.Duration) error {
	event := Event{
		Type:        EventTypeHostCompleted,
		Source:      "orchestrator",
		ExecutionID: executionID,
		HostID:      hostID,
		Message:     fmt.Sprintf("Host %s finished with exit code %d", hostID, exitCode),
		Level:       EventLevelInfo,
		Data: map[string]interface{}{
			"exit_code": exitCode,
			"duration":  duration.Seconds(),
		},
	}
	if !success {
		event.Type = EventTypeHostFailed
		event.Level = EventLevelWarning
	}
	return ep.Publish(event)
}

// PublishPolicyViolation publishes a blocked playbook.
func (ep *EventPublisher) PublishPolicyViolation(executionID, scriptID, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypePolicyViolation,
		Source:       "policy_gate",
		ExecutionID:  executionID,
		ResourceType: ResourceScript,
		ResourceID:   scriptID,
		Message:      fmt.Sprintf("Playbook %s blocked: %s", scriptID, reason),
		Level:        EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishResourceChange publishes an inventory or catalog change.
func (ep *EventPublisher) PublishResourceChange(eventType, resourceType, resourceID, actor string, data map[string]interface{}) error {
	return ep.Publish(Event{
		Type:         eventType,
		Source:       "api",
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Actor:        actor,
		Message:      fmt.Sprintf("%s %s", eventType, resourceID),
		Level:        EventLevelInfo,
		Data:         data,
	})
}

// Subscribe adds a subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	interval := ep.config.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, event := range batch {
			ep.deliverEvent(event)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize || len(ep.buffer) == 0 {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown drains buffered events and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByType allows only the given event types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}
