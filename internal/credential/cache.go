package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultRefreshMargin = 10 * time.Minute
	DefaultFetchTimeout  = 10 * time.Second
)

// Cache holds the current token for one user and shares a single pending
// fetch between concurrent callers.
type Cache struct {
	provider Provider
	userID   string
	params   map[string]string
	margin   time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	token Token
}

// NewCache creates a token cache. margin is how long before expiry a token is
// considered stale; zero uses DefaultRefreshMargin.
func NewCache(p Provider, userID string, params map[string]string, margin time.Duration, logger *zap.Logger) *Cache {
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		provider: p,
		userID:   userID,
		params:   params,
		margin:   margin,
		timeout:  DefaultFetchTimeout,
		logger:   logger,
		now:      time.Now,
	}
}

// Margin returns the proactive refresh margin.
func (c *Cache) Margin() time.Duration { return c.margin }

// Token returns a cached token or fetches a fresh one.
func (c *Cache) Token(ctx context.Context) (Token, error) {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()
	if !tok.Expired(c.now(), c.margin) {
		return tok, nil
	}
	return c.Refresh(ctx)
}

// Refresh always fetches a new token, joining any fetch already in flight.
func (c *Cache) Refresh(ctx context.Context) (Token, error) {
	ch := c.group.DoChan("token", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		tok, err := c.provider.FetchToken(fetchCtx, c.userID, c.params)
		if err != nil {
			return Token{}, err
		}
		if tok.ExpiresAt.IsZero() {
			tok.ExpiresAt = expiryFromJWT(tok.Value)
		}
		c.mu.Lock()
		c.token = tok
		c.mu.Unlock()
		c.logger.Debug("token refreshed", zap.Time("expires_at", tok.ExpiresAt))
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Token{}, fmt.Errorf("fetch token: %w", res.Err)
		}
		return res.Val.(Token), nil
	case <-ctx.Done():
		return Token{}, ctx.Err()
	}
}

// Invalidate drops the cached token if it still matches value.
func (c *Cache) Invalidate(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.Value == value {
		c.token = Token{}
	}
}

// expiryFromJWT reads the exp claim without verifying the signature. Opaque
// tokens yield a zero time.
func expiryFromJWT(value string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(value, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
