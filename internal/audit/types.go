// Package audit defines core types shared across the audit pipeline.
package audit

import (
	"net/http"
	"time"
)

// RunStatus represents the lifecycle state of an audit run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued  RunStatus = "queued"
	RunStatusRunning RunStatus = "running"
	RunStatusReady   RunStatus = "ready"
	RunStatusFailed  RunStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s RunStatus) Terminal() bool {
	return s == RunStatusReady || s == RunStatusFailed
}

// CanTransitionTo reports whether moving from s to next keeps the lifecycle monotonic.
// running -> running is allowed so a redelivered job can be picked up again.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	switch s {
	case RunStatusQueued:
		return next == RunStatusRunning || next == RunStatusFailed
	case RunStatusRunning:
		return next == RunStatusRunning || next.Terminal()
	default:
		return false
	}
}

// AllowedFrom lists the statuses that may move into next.
func AllowedFrom(next RunStatus) []RunStatus {
	var out []RunStatus
	for _, s := range []RunStatus{RunStatusQueued, RunStatusRunning, RunStatusReady, RunStatusFailed} {
		if s.CanTransitionTo(next) {
			out = append(out, s)
		}
	}
	return out
}

// Job is the payload enqueued for one audit.
type Job struct {
	RunID         string `json:"runId"`
	PageURL       string `json:"pageUrl"`
	TargetKeyword string `json:"targetKeyword,omitempty"`
	NotifyEmail   string `json:"notifyEmail,omitempty"`
	State         string `json:"state,omitempty"`
}

// Run is the persisted record of one audit request.
type Run struct {
	ID            string    `json:"runId"`
	PageURL       string    `json:"pageUrl"`
	TargetKeyword string    `json:"targetKeyword,omitempty"`
	NotifyEmail   string    `json:"notifyEmail,omitempty"`
	State         string    `json:"state,omitempty"`
	Status        RunStatus `json:"status"`
	ErrorText     string    `json:"error,omitempty"`
	Attempts      int       `json:"attempts"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Job rebuilds the queue payload for the run.
func (r Run) Job() Job {
	return Job{
		RunID:         r.ID,
		PageURL:       r.PageURL,
		TargetKeyword: r.TargetKeyword,
		NotifyEmail:   r.NotifyEmail,
		State:         r.State,
	}
}

// QueueItem wraps a job ready to run. ID is assigned by the queue backend.
type QueueItem struct {
	ID        string
	Job       Job
	Attempt   int
	Submitted int64
}

// TokenRecord is an OAuth token blob stored per tenant state.
type TokenRecord struct {
	State     string
	Tokens    []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL           string
	Headers       http.Header
	RespectRobots bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
