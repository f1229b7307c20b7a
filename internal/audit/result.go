package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// ResultSchemaVersion is stamped on every persisted result.
const ResultSchemaVersion = "1.0"

// CheckStatus is the verdict of a single heuristic.
type CheckStatus string

// Check verdicts.
const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// CheckResult is the outcome of one heuristic check.
type CheckResult struct {
	Status CheckStatus `json:"status"`
	Score  int         `json:"score"`
	Notes  string      `json:"notes"`
}

// Pass returns a passing result with the given note.
func Pass(notes string) CheckResult {
	return CheckResult{Status: CheckPass, Score: 100, Notes: notes}
}

// Warn returns a warning with the given score.
func Warn(score int, notes string) CheckResult {
	return CheckResult{Status: CheckWarn, Score: clampScore(score), Notes: notes}
}

// Fail returns a failing result with the given score.
func Fail(score int, notes string) CheckResult {
	return CheckResult{Status: CheckFail, Score: clampScore(score), Notes: notes}
}

func clampScore(score int) int {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}

// Opportunity is a PageSpeed improvement suggestion.
type Opportunity struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	SavingsMs   float64 `json:"savingsMs"`
	Description string  `json:"description,omitempty"`
}

// Diagnostic is a PageSpeed diagnostic audit.
type Diagnostic struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	DisplayValue string `json:"displayValue,omitempty"`
}

// PerformanceReport holds page-performance metrics. Nil metric pointers were not reported.
type PerformanceReport struct {
	Strategy         string        `json:"strategy"`
	LCP              *float64      `json:"lcp"`
	CLS              *float64      `json:"cls"`
	INP              *float64      `json:"inp"`
	FCP              *float64      `json:"fcp"`
	TBT              *float64      `json:"tbt"`
	SpeedIndex       *float64      `json:"si"`
	PerformanceScore *float64      `json:"performanceScore"`
	Notes            []string      `json:"notes"`
	Opportunities    []Opportunity `json:"opportunities,omitempty"`
	Diagnostics      []Diagnostic  `json:"diagnostics,omitempty"`
}

// QueryRow is one search query aggregate.
type QueryRow struct {
	Query       string  `json:"query"`
	Clicks      float64 `json:"clicks"`
	Impressions float64 `json:"impressions"`
	CTR         float64 `json:"ctr"`
	Position    float64 `json:"position"`
}

// AnalyticsReport holds search analytics for the audited page. Available is false on any degradation.
type AnalyticsReport struct {
	Available        bool       `json:"available"`
	Message          string     `json:"message,omitempty"`
	Property         string     `json:"property,omitempty"`
	StartDate        string     `json:"startDate,omitempty"`
	EndDate          string     `json:"endDate,omitempty"`
	TotalClicks      float64    `json:"totalClicks"`
	TotalImpressions float64    `json:"totalImpressions"`
	AvgCTR           float64    `json:"avgCtr"`
	TopQueries       []QueryRow `json:"topQueries,omitempty"`
}

// UnavailableAnalytics builds a degraded analytics report.
func UnavailableAnalytics(message string) AnalyticsReport {
	return AnalyticsReport{Available: false, Message: message}
}

// Result is the persisted audit report.
type Result struct {
	Version          string                 `json:"version"`
	URL              string                 `json:"url"`
	FetchedAt        time.Time              `json:"fetchedAt"`
	Checks           map[string]CheckResult `json:"checks"`
	OverallScore     float64                `json:"overallScore"`
	Performance      *PerformanceReport     `json:"performance"`
	PerformanceNote  string                 `json:"performanceNote,omitempty"`
	Analytics        AnalyticsReport        `json:"analytics"`
	ContentHash      string                 `json:"contentHash,omitempty"`
	RenderedHeadless bool                   `json:"renderedHeadless"`
}

// Encode serializes the result, stamping the current schema version when unset.
func (r Result) Encode() ([]byte, error) {
	if r.Version == "" {
		r.Version = ResultSchemaVersion
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return data, nil
}

// DecodeResult parses a stored result and rejects unknown schema versions.
func DecodeResult(data []byte) (Result, error) {
	var envelope struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Result{}, fmt.Errorf("decode result version: %w", err)
	}
	if envelope.Version != ResultSchemaVersion {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedVersion, envelope.Version)
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}
	return res, nil
}
