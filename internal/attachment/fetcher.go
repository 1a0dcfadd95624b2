package attachment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/matheus3301/chatkit/internal/credential"
	"github.com/matheus3301/chatkit/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TokenSource supplies the bearer token for attachment requests.
type TokenSource interface {
	Token(ctx context.Context) (credential.Token, error)
}

type fetchResponse struct {
	Link string  `json:"resource_link"`
	TTL  float64 `json:"ttl"`
}

type cached struct {
	att     model.FetchedAttachment
	expires time.Time
}

// Fetcher resolves fetch-required attachment links out of band. Concurrent
// requests for the same link share one HTTP call and results are cached until
// their TTL ends.
type Fetcher struct {
	client *http.Client
	tokens TokenSource
	logger *zap.Logger
	now    func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cached
}

// NewFetcher creates a fetcher. tokens may be nil for public links.
func NewFetcher(tokens TokenSource, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		tokens: tokens,
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]cached),
	}
}

// Fetch returns the downloadable link for an attachment.
func (f *Fetcher) Fetch(ctx context.Context, link string) (model.FetchedAttachment, error) {
	f.mu.Lock()
	if c, ok := f.cache[link]; ok && f.now().Before(c.expires) {
		f.mu.Unlock()
		return c.att, nil
	}
	f.mu.Unlock()

	ch := f.group.DoChan(link, func() (any, error) {
		return f.fetch(context.WithoutCancel(ctx), link)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return model.FetchedAttachment{}, res.Err
		}
		return res.Val.(model.FetchedAttachment), nil
	case <-ctx.Done():
		return model.FetchedAttachment{}, ctx.Err()
	}
}

func (f *Fetcher) fetch(ctx context.Context, link string) (model.FetchedAttachment, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return model.FetchedAttachment{}, fmt.Errorf("build attachment request: %w", err)
	}
	if f.tokens != nil {
		tok, err := f.tokens.Token(ctx)
		if err != nil {
			return model.FetchedAttachment{}, fmt.Errorf("attachment token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok.Value)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return model.FetchedAttachment{}, fmt.Errorf("fetch attachment: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return model.FetchedAttachment{}, &model.AuthError{Status: resp.StatusCode}
	}
	if resp.StatusCode/100 != 2 {
		return model.FetchedAttachment{}, fmt.Errorf("fetch attachment: status %d", resp.StatusCode)
	}

	var fr fetchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&fr); err != nil {
		return model.FetchedAttachment{}, fmt.Errorf("decode attachment: %w", err)
	}
	if fr.Link == "" {
		return model.FetchedAttachment{}, fmt.Errorf("attachment response has no resource_link")
	}
	att := model.FetchedAttachment{Link: fr.Link, TTL: time.Duration(fr.TTL * float64(time.Second))}

	if att.TTL > 0 {
		f.mu.Lock()
		f.cache[link] = cached{att: att, expires: f.now().Add(att.TTL)}
		f.mu.Unlock()
	}
	f.logger.Debug("attachment resolved", zap.String("link", link), zap.Duration("ttl", att.TTL))
	return att, nil
}
