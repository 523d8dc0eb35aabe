package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
)

// TokenSource wraps an oauth2.TokenSource with automatic refresh
type TokenSource struct {
	mu           sync.Mutex
	config       *oauth2.Config
	refreshToken string
	currentToken *oauth2.Token
}

// NewTokenSource creates a new TokenSource
func NewTokenSource(config *oauth2.Config, refreshToken string) *TokenSource {
	return &TokenSource{
		config:       config,
		refreshToken: refreshToken,
	}
}

// Token returns a valid token, refreshing if necessary. Safe for use by
// concurrent uploads sharing one account.
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.currentToken != nil && ts.currentToken.Valid() {
		return ts.currentToken, nil
	}

	token := &oauth2.Token{
		RefreshToken: ts.refreshTokenLocked(),
	}

	newToken, err := ts.config.TokenSource(context.Background(), token).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	ts.currentToken = newToken
	return newToken, nil
}

// GetRefreshToken returns the current refresh token
func (ts *TokenSource) GetRefreshToken() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.refreshTokenLocked()
}

// refreshTokenLocked requires ts.mu
func (ts *TokenSource) refreshTokenLocked() string {
	if ts.currentToken != nil && ts.currentToken.RefreshToken != "" {
		return ts.currentToken.RefreshToken
	}
	return ts.refreshToken
}

// HTTPClient returns a client authorizing every request with a token from ts
func HTTPClient(ctx context.Context, ts oauth2.TokenSource) *http.Client {
	return oauth2.NewClient(ctx, ts)
}

// ValidateToken checks if a token can be refreshed
func ValidateToken(config *oauth2.Config, refreshToken string) error {
	ts := NewTokenSource(config, refreshToken)
	_, err := ts.Token()
	return err
}
