package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/seo-auditor/internal/audit"
)

// TokenStore implements audit.TokenStore on Postgres.
type TokenStore struct {
	pool  dbPool
	clock audit.Clock
}

// NewTokenStore builds a TokenStore over pool. A nil clock uses UTC wall time.
func NewTokenStore(pool dbPool, clock audit.Clock) (*TokenStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &TokenStore{pool: pool, clock: clockOrSystem(clock)}, nil
}

// UpsertToken stores tokens for state, keeping the original creation time.
func (s *TokenStore) UpsertToken(ctx context.Context, state string, tokens []byte) error {
	query := `
INSERT INTO oauth_tokens (state, tokens, created_at, updated_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (state) DO UPDATE
SET tokens = EXCLUDED.tokens, updated_at = EXCLUDED.updated_at`
	if _, err := s.pool.Exec(ctx, query, state, tokens, s.clock.Now()); err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

// LatestToken returns the record for state.
func (s *TokenStore) LatestToken(ctx context.Context, state string) (audit.TokenRecord, error) {
	row := s.pool.QueryRow(ctx, `
SELECT state, tokens, created_at, updated_at
FROM oauth_tokens
WHERE state = $1
ORDER BY created_at DESC
LIMIT 1`, state)
	return scanToken(row, "load token for state")
}

// LatestAnyToken returns the most recently created record across all states.
func (s *TokenStore) LatestAnyToken(ctx context.Context) (audit.TokenRecord, error) {
	row := s.pool.QueryRow(ctx, `
SELECT state, tokens, created_at, updated_at
FROM oauth_tokens
ORDER BY created_at DESC
LIMIT 1`)
	return scanToken(row, "load latest token")
}

func scanToken(row pgx.Row, op string) (audit.TokenRecord, error) {
	var rec audit.TokenRecord
	err := row.Scan(&rec.State, &rec.Tokens, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return audit.TokenRecord{}, fmt.Errorf("%s: %w", op, audit.ErrNotFound)
	}
	if err != nil {
		return audit.TokenRecord{}, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}
