package heuristics

import (
	"strings"
	"sync"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

// SeenTracker remembers titles and descriptions already audited in one run.
// It is safe for concurrent use; the engine only reads it.
type SeenTracker struct {
	mu           sync.RWMutex
	threshold    float64
	metric       strutil.StringMetric
	titles       []string
	descriptions []string
}

// NewSeenTracker builds a tracker flagging pairs whose Sørensen–Dice similarity exceeds threshold.
func NewSeenTracker(threshold float64) *SeenTracker {
	if threshold <= 0 {
		threshold = 0.8
	}
	return &SeenTracker{
		threshold: threshold,
		metric:    metrics.NewSorensenDice(),
	}
}

// SimilarTitle reports whether title is a near-duplicate of a recorded title.
func (t *SeenTracker) SimilarTitle(title string) bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.similar(t.titles, title)
}

// SimilarDescription reports whether desc is a near-duplicate of a recorded description.
func (t *SeenTracker) SimilarDescription(desc string) bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.similar(t.descriptions, desc)
}

// Record adds a page's title and description. Empty values are ignored.
func (t *SeenTracker) Record(title, desc string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if strings.TrimSpace(title) != "" {
		t.titles = append(t.titles, title)
	}
	if strings.TrimSpace(desc) != "" {
		t.descriptions = append(t.descriptions, desc)
	}
}

func (t *SeenTracker) similar(seen []string, candidate string) bool {
	if strings.TrimSpace(candidate) == "" {
		return false
	}
	for _, s := range seen {
		if strutil.Similarity(s, candidate, t.metric) > t.threshold {
			return true
		}
	}
	return false
}
