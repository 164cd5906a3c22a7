package supabase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"

	"eldergen-backend/internal/apperrors"
)

// Tokens within this margin of expiry are refreshed eagerly so an
// upload never starts with a credential about to lapse mid-transfer.
const expiryMargin = 5 * time.Minute

// CredentialCache holds the bearer token for the storage API and
// refreshes it before expiry or on rejection. The mutex is held across
// the refresh call, so concurrent callers racing an expired token all
// observe the single in-flight refresh's result.
type CredentialCache struct {
	mu     sync.Mutex
	client gotrue.Client

	email    string
	password string

	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

func NewCredentialCache(supabaseURL, anonKey, email, password string) *CredentialCache {
	authURL := strings.TrimSuffix(supabaseURL, "/") + "/auth/v1"
	client := gotrue.New("eldergen", anonKey).WithCustomGoTrueURL(authURL)

	return &CredentialCache{
		client:   client,
		email:    email,
		password: password,
	}
}

// Token returns a bearer token valid for at least the expiry margin,
// refreshing first if needed.
func (c *CredentialCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Until(c.expiresAt) > expiryMargin {
		return c.accessToken, nil
	}
	return c.refreshLocked()
}

// ForceRefresh discards staleToken and returns a fresh credential. If
// another caller already replaced staleToken, the replacement is
// returned without a second round trip.
func (c *CredentialCache) ForceRefresh(ctx context.Context, staleToken string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.accessToken != staleToken && time.Until(c.expiresAt) > expiryMargin {
		return c.accessToken, nil
	}
	return c.refreshLocked()
}

// refreshLocked tries the refresh-token grant first and falls back to a
// password sign-in. Callers must hold c.mu.
func (c *CredentialCache) refreshLocked() (string, error) {
	if c.refreshToken != "" {
		resp, err := c.client.RefreshToken(c.refreshToken)
		if err == nil {
			c.store(resp)
			return c.accessToken, nil
		}
		// Refresh token rejected or expired; fall through to sign-in.
		c.refreshToken = ""
	}

	if c.email == "" || c.password == "" {
		return "", apperrors.ErrCredentialUnavailable
	}

	resp, err := c.client.SignInWithEmailPassword(c.email, c.password)
	if err != nil {
		return "", fmt.Errorf("%w: sign-in failed: %v", apperrors.ErrCredentialUnavailable, err)
	}
	c.store(resp)
	return c.accessToken, nil
}

func (c *CredentialCache) store(resp *types.TokenResponse) {
	c.accessToken = resp.AccessToken
	c.refreshToken = resp.RefreshToken
	c.expiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
}
