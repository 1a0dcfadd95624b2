package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matheus3301/chatkit/internal/model"
)

// Token is a bearer credential and its expiry. A zero ExpiresAt means unknown.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the token is unusable at t, honoring margin.
func (t Token) Expired(at time.Time, margin time.Duration) bool {
	if t.Value == "" {
		return true
	}
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !at.Add(margin).Before(t.ExpiresAt)
}

// Provider fetches tokens for a user. Implementations are supplied by the embedding app.
type Provider interface {
	FetchToken(ctx context.Context, userID string, params map[string]string) (Token, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, userID string, params map[string]string) (Token, error)

func (f ProviderFunc) FetchToken(ctx context.Context, userID string, params map[string]string) (Token, error) {
	return f(ctx, userID, params)
}

// HTTPProvider exchanges client credentials for an access token at Endpoint.
type HTTPProvider struct {
	Endpoint string
	Client   *http.Client
	Headers  map[string]string
	now      func() time.Time
}

// NewHTTPProvider creates a provider posting to endpoint.
func NewHTTPProvider(endpoint string, headers map[string]string) *HTTPProvider {
	return &HTTPProvider{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 10 * time.Second},
		Headers:  headers,
		now:      time.Now,
	}
}

type tokenResponse struct {
	AccessToken string  `json:"access_token"`
	ExpiresIn   float64 `json:"expires_in"`
}

// FetchToken posts grant_type=client_credentials plus params as a form, with
// user_id in the query string.
func (p *HTTPProvider) FetchToken(ctx context.Context, userID string, params map[string]string) (Token, error) {
	u, err := url.Parse(p.Endpoint)
	if err != nil {
		return Token{}, fmt.Errorf("parse token endpoint: %w", err)
	}
	q := u.Query()
	if userID != "" {
		q.Set("user_id", userID)
	}
	u.RawQuery = q.Encode()

	form := url.Values{"grant_type": {"client_credentials"}}
	for k, v := range params {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Token{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Token{}, &model.AuthError{Status: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(body)))}
	}
	if resp.StatusCode/100 != 2 {
		return Token{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return Token{}, fmt.Errorf("token response has no access_token")
	}
	tok := Token{Value: tr.AccessToken}
	if tr.ExpiresIn > 0 {
		tok.ExpiresAt = p.now().Add(time.Duration(tr.ExpiresIn * float64(time.Second)))
	}
	return tok, nil
}
