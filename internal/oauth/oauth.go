// Package oauth runs the Search Console OAuth flow and keeps tenant tokens in the token store.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/JakeFAU/seo-auditor/internal/audit"
)

// Scope grants read-only Search Console access.
const Scope = "https://www.googleapis.com/auth/webmasters.readonly"

var (
	// ErrNotConfigured is returned when no client id or secret is set.
	ErrNotConfigured = errors.New("oauth client not configured")
	// ErrNoToken is returned when no token has been stored for any tenant.
	ErrNoToken = errors.New("no oauth token stored")
)

// Config holds the OAuth client settings. Endpoint defaults to Google's.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
}

// Manager issues consent URLs, exchanges callback codes and hands out refreshing token sources.
type Manager struct {
	cfg    *oauth2.Config
	store  audit.TokenStore
	logger *zap.Logger
}

// New builds a Manager.
func New(cfg Config, store audit.TokenStore, logger *zap.Logger) *Manager {
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = google.Endpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     cfg.Endpoint,
			Scopes:       []string{Scope},
		},
		store:  store,
		logger: logger.Named("oauth"),
	}
}

// Configured reports whether client credentials are present.
func (m *Manager) Configured() bool {
	return m.cfg.ClientID != "" && m.cfg.ClientSecret != ""
}

// AuthURL returns the consent URL for state, requesting offline access so a refresh token is issued.
func (m *Manager) AuthURL(state string) string {
	return m.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// HandleCallback exchanges code for tokens and stores them under state.
func (m *Manager) HandleCallback(ctx context.Context, code, state string) error {
	if !m.Configured() {
		return ErrNotConfigured
	}
	tok, err := m.cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	if err := m.save(ctx, state, tok); err != nil {
		return err
	}
	m.logger.Info("oauth tokens stored",
		zap.String("state", state),
		zap.Bool("refresh_token", tok.RefreshToken != ""),
	)
	return nil
}

// TokenSource returns a source for the newest token stored for state, falling back to the newest
// token of any tenant. Refreshed tokens are written back under the record's state.
func (m *Manager) TokenSource(ctx context.Context, state string) (oauth2.TokenSource, error) {
	if !m.Configured() {
		return nil, ErrNotConfigured
	}
	rec, err := m.lookup(ctx, state)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(rec.Tokens, &tok); err != nil {
		return nil, fmt.Errorf("decode stored token: %w", err)
	}
	return &persistingSource{
		base:    oauth2.ReuseTokenSource(&tok, m.cfg.TokenSource(context.WithoutCancel(ctx), &tok)),
		manager: m,
		state:   rec.State,
		last:    tok.AccessToken,
	}, nil
}

func (m *Manager) lookup(ctx context.Context, state string) (audit.TokenRecord, error) {
	if state != "" {
		rec, err := m.store.LatestToken(ctx, state)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, audit.ErrNotFound) {
			return audit.TokenRecord{}, fmt.Errorf("load token for state: %w", err)
		}
	}
	rec, err := m.store.LatestAnyToken(ctx)
	if errors.Is(err, audit.ErrNotFound) {
		return audit.TokenRecord{}, ErrNoToken
	}
	if err != nil {
		return audit.TokenRecord{}, fmt.Errorf("load latest token: %w", err)
	}
	return rec, nil
}

func (m *Manager) save(ctx context.Context, state string, tok *oauth2.Token) error {
	blob, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := m.store.UpsertToken(ctx, state, blob); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

// persistingSource writes a token back to the store whenever the access token changes.
type persistingSource struct {
	mu      sync.Mutex
	base    oauth2.TokenSource
	manager *Manager
	state   string
	last    string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("oauth token: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.manager.save(context.Background(), s.state, tok); err != nil {
			s.manager.logger.Warn("persist refreshed token", zap.String("state", s.state), zap.Error(err))
		}
	}
	return tok, nil
}
