package audit

import (
	"context"
	"io"
	"time"
)

// RunStore persists audit runs and their results.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, error)
	// TransitionRun moves a run to status, failing with ErrInvalidTransition when the move is not monotonic.
	TransitionRun(ctx context.Context, runID string, status RunStatus, errText string) error
	// CompleteRun writes the result and marks the run ready in one step. A second call for the same run is a no-op.
	CompleteRun(ctx context.Context, runID string, result Result) error
	GetResult(ctx context.Context, runID string) (Result, error)
	// ListStaleRuns returns running runs last updated before cutoff.
	ListStaleRuns(ctx context.Context, cutoff time.Time) ([]Run, error)
}

// TokenStore persists OAuth token records keyed by tenant state.
type TokenStore interface {
	UpsertToken(ctx context.Context, state string, tokens []byte) error
	// LatestToken returns the newest record for state, or ErrNotFound.
	LatestToken(ctx context.Context, state string) (TokenRecord, error)
	// LatestAnyToken returns the newest record across all states, or ErrNotFound.
	LatestAnyToken(ctx context.Context) (TokenRecord, error)
}

// Queue provides at-least-once delivery of audit jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	// Ack removes a delivered item for good.
	Ack(ctx context.Context, item QueueItem) error
	// Retry schedules redelivery of item after delay with Attempt incremented.
	Retry(ctx context.Context, item QueueItem, delay time.Duration) error
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a client-rendered page needs a headless fetch.
type HeadlessDetector interface {
	ShouldPromote(resp FetchResponse) bool
}

// PerformanceSource returns page-performance metrics. A nil report with a nil error means the source is not configured.
type PerformanceSource interface {
	Fetch(ctx context.Context, pageURL string) (*PerformanceReport, error)
}

// AnalyticsSource returns search analytics for a page and tenant. It reports failures inside the result.
type AnalyticsSource interface {
	Fetch(ctx context.Context, pageURL, state string) AnalyticsReport
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Limiter paces requests per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests for content integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
