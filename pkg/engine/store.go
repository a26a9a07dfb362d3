package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

type executionEntry struct {
	mu  sync.Mutex
	rec *ExecutionRecord
}

// ExecutionStore keeps execution records in memory. Records are guarded
// individually so polling one execution never waits on another. Every read
// returns a deep copy.
type ExecutionStore struct {
	mu      sync.RWMutex
	entries map[string]*executionEntry
}

// NewExecutionStore creates an empty store.
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{entries: make(map[string]*executionEntry)}
}

// Create adds a new record.
func (s *ExecutionStore) Create(rec *ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[rec.ID]; exists {
		return NewConflictError("execution already exists", nil).WithResource(rec.ID)
	}

	stored := rec.Clone()
	if stored.Results == nil {
		stored.Results = make(map[string]*HostResult)
	}
	s.entries[rec.ID] = &executionEntry{rec: stored}
	return nil
}

// Get returns a snapshot of a record.
func (s *ExecutionStore) Get(id string) (*ExecutionRecord, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.rec.Clone(), nil
}

// List returns snapshots of all records, newest first.
func (s *ExecutionStore) List() []*ExecutionRecord {
	s.mu.RLock()
	entries := make([]*executionEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*ExecutionRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.rec.Clone())
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// SetStatus moves a record forward to status. Backward transitions are
// rejected.
func (s *ExecutionStore) SetStatus(id string, status ExecutionStatus) error {
	return s.update(id, func(rec *ExecutionRecord) error {
		if !rec.Status.CanTransitionTo(status) {
			return fmt.Errorf("invalid transition from %s to %s", rec.Status, status)
		}
		rec.Status = status
		if status.IsTerminal() {
			now := time.Now()
			rec.EndedAt = &now
		}
		return nil
	})
}

// RecordHostResult stores the result of one host and bumps the matching
// counter. A second result for the same host is rejected.
func (s *ExecutionStore) RecordHostResult(id string, result *HostResult) error {
	return s.update(id, func(rec *ExecutionRecord) error {
		if rec.Status.IsTerminal() {
			return fmt.Errorf("execution %s is already %s", id, rec.Status)
		}
		if _, exists := rec.Results[result.HostID]; exists {
			return fmt.Errorf("result for host %s already recorded", result.HostID)
		}

		cp := *result
		rec.Results[result.HostID] = &cp
		if result.Success {
			rec.CompletedCount++
		} else {
			rec.FailedCount++
		}
		return nil
	})
}

// Fail ends an execution with an orchestration error. Every host without a
// result gets a failed result carrying the message.
func (s *ExecutionStore) Fail(id, message string) error {
	return s.update(id, func(rec *ExecutionRecord) error {
		if rec.Status.IsTerminal() {
			return fmt.Errorf("execution %s is already %s", id, rec.Status)
		}

		now := time.Now()
		for _, h := range rec.Pending() {
			rec.Results[h.ID] = &HostResult{
				HostID:      h.ID,
				Hostname:    h.Name,
				IP:          h.IP,
				Output:      message,
				ExitCode:    -1,
				CompletedAt: now,
			}
			rec.FailedCount++
		}

		rec.Error = message
		rec.Status = StatusFailed
		rec.EndedAt = &now
		return nil
	})
}

// Finish moves a running execution to its terminal status: completed if
// every host succeeded, failed otherwise.
func (s *ExecutionStore) Finish(id string) (ExecutionStatus, error) {
	var status ExecutionStatus
	err := s.update(id, func(rec *ExecutionRecord) error {
		if rec.Status.IsTerminal() {
			status = rec.Status
			return nil
		}

		status = StatusFailed
		if rec.FailedCount == 0 && rec.CompletedCount == rec.TotalHosts {
			status = StatusCompleted
		}
		now := time.Now()
		rec.Status = status
		rec.EndedAt = &now
		return nil
	})
	return status, err
}

func (s *ExecutionStore) update(id string, fn func(rec *ExecutionRecord) error) error {
	entry, err := s.entry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return fn(entry.rec)
}

func (s *ExecutionStore) entry(id string) (*executionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, NewNotFoundError("execution", id)
	}
	return entry, nil
}
