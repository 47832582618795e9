package telehealth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
)

// AuthenticationError is returned when the account token exchange fails. It
// is fatal for a migration run.
type AuthenticationError struct {
	StatusCode int
	Body       string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %d - %s", e.StatusCode, e.Body)
}

// Token is a bearer token issued by the telehealth API.
type Token struct {
	Value string
	// ExpiresAt is zero when the token carries no readable exp claim.
	ExpiresAt time.Time
}

// Expired reports whether the token's exp claim is before now.
func (t *Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	JWT string `json:"jwt"`
}

// Authenticate exchanges credentials for a bearer token. It is not retried.
func (c *Client) Authenticate(ctx context.Context, username, password string) (*Token, error) {
	payload, err := json.Marshal(credentials{Username: username, Password: password})
	if err != nil {
		return nil, fmt.Errorf("encode credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/account_token", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read auth response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &AuthenticationError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.JWT == "" {
		return nil, &AuthenticationError{StatusCode: resp.StatusCode, Body: "response has no jwt: " + truncate(string(body), 200)}
	}

	tok := &Token{Value: tr.JWT, ExpiresAt: tokenExpiry(tr.JWT)}
	ev := c.logger.Info()
	if !tok.ExpiresAt.IsZero() {
		ev = ev.Time("expires_at", tok.ExpiresAt)
	}
	ev.Msg("authenticated with telehealth API")
	if tok.Expired(c.now()) {
		c.logger.Warn().Time("expires_at", tok.ExpiresAt).Msg("token is already expired")
	}
	return tok, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the token
// is opaque to us and only the issuer can verify it.
func tokenExpiry(raw string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
