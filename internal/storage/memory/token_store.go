package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/seo-auditor/internal/audit"
	"github.com/JakeFAU/seo-auditor/internal/clock/system"
)

// TokenStore keeps OAuth token records in memory.
type TokenStore struct {
	mu      sync.RWMutex
	clock   audit.Clock
	records map[string]audit.TokenRecord
	seq     map[string]int
	next    int
}

// NewTokenStore constructs a TokenStore. A nil clock uses UTC wall time.
func NewTokenStore(clock audit.Clock) *TokenStore {
	if clock == nil {
		clock = system.New()
	}
	return &TokenStore{
		clock:   clock,
		records: make(map[string]audit.TokenRecord),
		seq:     make(map[string]int),
	}
}

// UpsertToken creates or replaces the record for state.
func (s *TokenStore) UpsertToken(_ context.Context, state string, tokens []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	rec, ok := s.records[state]
	if !ok {
		rec = audit.TokenRecord{State: state, CreatedAt: now}
		s.next++
		s.seq[state] = s.next
	}
	rec.Tokens = append([]byte(nil), tokens...)
	rec.UpdatedAt = now
	s.records[state] = rec
	return nil
}

// LatestToken returns the record for state.
func (s *TokenStore) LatestToken(_ context.Context, state string) (audit.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[state]
	if !ok {
		return audit.TokenRecord{}, fmt.Errorf("token for state %q: %w", state, audit.ErrNotFound)
	}
	return rec, nil
}

// LatestAnyToken returns the most recently created record across states.
func (s *TokenStore) LatestAnyToken(_ context.Context) (audit.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best    audit.TokenRecord
		bestSeq int
	)
	for state, rec := range s.records {
		if s.seq[state] > bestSeq {
			best, bestSeq = rec, s.seq[state]
		}
	}
	if bestSeq == 0 {
		return audit.TokenRecord{}, fmt.Errorf("latest token: %w", audit.ErrNotFound)
	}
	return best, nil
}
