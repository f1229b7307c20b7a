package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/seo-auditor/internal/audit"
	"github.com/JakeFAU/seo-auditor/internal/clock/system"
)

// RunStore provides an in-memory audit.RunStore for development/testing.
type RunStore struct {
	mu      sync.RWMutex
	clock   audit.Clock
	runs    map[string]audit.Run
	results map[string]audit.Result
}

// NewRunStore constructs a RunStore. A nil clock uses UTC wall time.
func NewRunStore(clock audit.Clock) *RunStore {
	if clock == nil {
		clock = system.New()
	}
	return &RunStore{
		clock:   clock,
		runs:    make(map[string]audit.Run),
		results: make(map[string]audit.Result),
	}
}

// CreateRun stores a new run in queued status.
func (s *RunStore) CreateRun(_ context.Context, run audit.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("create run %s: %w", run.ID, audit.ErrAlreadyExists)
	}
	now := s.clock.Now()
	run.Status = audit.RunStatusQueued
	run.CreatedAt = now
	run.UpdatedAt = now
	s.runs[run.ID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (audit.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return audit.Run{}, fmt.Errorf("get run %s: %w", runID, audit.ErrNotFound)
	}
	return run, nil
}

// TransitionRun moves a run to status when the lifecycle allows it.
func (s *RunStore) TransitionRun(_ context.Context, runID string, status audit.RunStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("transition run %s: %w", runID, audit.ErrNotFound)
	}
	if !run.Status.CanTransitionTo(status) {
		return fmt.Errorf("transition run %s from %s to %s: %w", runID, run.Status, status, audit.ErrInvalidTransition)
	}
	if status == audit.RunStatusRunning {
		run.Attempts++
	}
	run.Status = status
	run.ErrorText = errText
	run.UpdatedAt = s.clock.Now()
	s.runs[runID] = run
	return nil
}

// CompleteRun stores the result and marks the run ready. Repeat calls keep the first result.
func (s *RunStore) CompleteRun(_ context.Context, runID string, result audit.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("complete run %s: %w", runID, audit.ErrNotFound)
	}
	if _, done := s.results[runID]; done {
		return nil
	}
	if !run.Status.CanTransitionTo(audit.RunStatusReady) {
		return fmt.Errorf("complete run %s from %s: %w", runID, run.Status, audit.ErrInvalidTransition)
	}
	if result.Version == "" {
		result.Version = audit.ResultSchemaVersion
	}
	s.results[runID] = result
	run.Status = audit.RunStatusReady
	run.ErrorText = ""
	run.UpdatedAt = s.clock.Now()
	s.runs[runID] = run
	return nil
}

// GetResult returns the stored result for a ready run.
func (s *RunStore) GetResult(_ context.Context, runID string) (audit.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[runID]
	if !ok {
		return audit.Result{}, fmt.Errorf("get result %s: %w", runID, audit.ErrNotFound)
	}
	return res, nil
}

// ListStaleRuns returns running runs last updated before cutoff, oldest first.
func (s *RunStore) ListStaleRuns(_ context.Context, cutoff time.Time) ([]audit.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Run
	for _, run := range s.runs {
		if run.Status == audit.RunStatusRunning && run.UpdatedAt.Before(cutoff) {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}
