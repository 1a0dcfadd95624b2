package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatkit/internal/credential"
	"github.com/matheus3301/chatkit/internal/model"
	"go.uber.org/zap"
)

// Settings tunes dialing, keepalive and reconnection.
type Settings struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	PingPeriod   time.Duration
	PongWait     time.Duration

	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	// ReconnectBudget is how long an outage may last before OnExhausted fires.
	ReconnectBudget time.Duration
}

// DefaultSettings returns production defaults.
func DefaultSettings() Settings {
	return Settings{
		DialTimeout:         10 * time.Second,
		WriteTimeout:        10 * time.Second,
		PingPeriod:          30 * time.Second,
		PongWait:            75 * time.Second,
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         30 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.5,
		ReconnectBudget:     2 * time.Minute,
	}
}

// TokenSource supplies bearer tokens. *credential.Cache implements it.
type TokenSource interface {
	Token(ctx context.Context) (credential.Token, error)
	Refresh(ctx context.Context) (credential.Token, error)
	Invalidate(value string)
	Margin() time.Duration
}

// Handler receives connection callbacks. OnFrame is called from the single
// read goroutine; nil callbacks are skipped.
type Handler struct {
	OnFrame        func(Frame)
	OnConnected    func()
	OnDisconnected func(error)
	OnExhausted    func(error)
	OnAuthFailed   func(error)
}

// Conn maintains at most one live websocket to the realtime endpoint and
// reconnects with jittered exponential backoff until its context ends.
type Conn struct {
	url      string
	tokens   TokenSource
	settings Settings
	handler  Handler
	dialer   *websocket.Dialer
	logger   *zap.Logger

	mu      sync.Mutex
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// New creates a connection. Nothing is dialed until Run.
func New(url string, tokens TokenSource, settings Settings, h Handler, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		url:      url,
		tokens:   tokens,
		settings: settings,
		handler:  h,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: settings.DialTimeout,
		},
		logger: logger,
	}
}

// Connected reports whether a socket is currently live.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

func (c *Conn) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.settings.InitialInterval
	b.MaxInterval = c.settings.MaxInterval
	b.Multiplier = c.settings.Multiplier
	b.RandomizationFactor = c.settings.RandomizationFactor
	b.MaxElapsedTime = c.settings.ReconnectBudget
	b.Reset()
	return b
}

// Run dials and redials until ctx is cancelled. It always returns ctx.Err().
func (c *Conn) Run(ctx context.Context) error {
	b := c.newBackOff()
	attempts := 0
	exhausted := false
	authRetried := false

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			c.logger.Warn("realtime connection lost", zap.Error(err))
			if c.handler.OnDisconnected != nil {
				c.handler.OnDisconnected(err)
			}
			b.Reset()
			attempts = 0
			exhausted = false
			authRetried = false
		}

		var authErr *model.AuthError
		if errors.As(err, &authErr) {
			if !authRetried {
				// Refresh and redial immediately, once.
				authRetried = true
				c.logger.Info("credential rejected, refreshing token", zap.Int("status", authErr.Status))
				continue
			}
			if c.handler.OnAuthFailed != nil {
				c.handler.OnAuthFailed(err)
			}
		} else {
			authRetried = false
		}

		attempts++
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			if !exhausted {
				exhausted = true
				c.logger.Error("reconnect budget exhausted", zap.Int("attempts", attempts), zap.Error(err))
				if c.handler.OnExhausted != nil {
					c.handler.OnExhausted(&model.TransportError{Attempts: attempts, Err: err})
				}
			}
			delay = c.settings.MaxInterval
		}
		c.logger.Info("reconnecting", zap.Duration("delay", delay), zap.Int("attempt", attempts))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// session dials once and reads until the socket fails. connected reports
// whether the handshake succeeded.
func (c *Conn) session(ctx context.Context) (connected bool, err error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return false, &model.TransportError{Err: err}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+tok.Value)

	dialCtx, cancelDial := context.WithTimeout(ctx, c.settings.DialTimeout)
	ws, resp, err := c.dialer.DialContext(dialCtx, c.url, header)
	cancelDial()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			c.tokens.Invalidate(tok.Value)
			return false, &model.AuthError{Status: resp.StatusCode, Err: err}
		}
		return false, &model.TransportError{Err: fmt.Errorf("dial: %w", err)}
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		_ = ws.Close()
	}()

	c.logger.Info("realtime connection established", zap.String("url", c.url))

	go func() {
		<-sessCtx.Done()
		_ = ws.Close()
	}()
	go c.keepalive(sessCtx, ws)
	go c.refreshLoop(sessCtx, tok)

	if c.handler.OnConnected != nil {
		c.handler.OnConnected()
	}

	return true, c.readLoop(ws, tok)
}

func (c *Conn) readLoop(ws *websocket.Conn, tok credential.Token) error {
	_ = ws.SetReadDeadline(time.Now().Add(c.settings.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.settings.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return &model.TransportError{Err: err}
		}
		_ = ws.SetReadDeadline(time.Now().Add(c.settings.PongWait))

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		if f.Type == TypeError && f.Error != nil && f.Error.Status == http.StatusUnauthorized {
			c.tokens.Invalidate(tok.Value)
			return &model.AuthError{Status: f.Error.Status, Err: errors.New(f.Error.String())}
		}
		if c.handler.OnFrame != nil {
			c.handler.OnFrame(f)
		}
	}
}

func (c *Conn) keepalive(ctx context.Context, ws *websocket.Conn) {
	if c.settings.PingPeriod <= 0 {
		return
	}
	ticker := time.NewTicker(c.settings.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.settings.WriteTimeout)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// refreshLoop re-authenticates the live socket shortly before the token expires.
func (c *Conn) refreshLoop(ctx context.Context, tok credential.Token) {
	for {
		if tok.ExpiresAt.IsZero() {
			return
		}
		wait := max(time.Until(tok.ExpiresAt.Add(-c.tokens.Margin())), time.Second)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}

		next, err := c.tokens.Refresh(ctx)
		if err != nil {
			c.logger.Warn("proactive token refresh failed", zap.Error(err))
			if c.handler.OnAuthFailed != nil {
				var authErr *model.AuthError
				if errors.As(err, &authErr) {
					c.handler.OnAuthFailed(err)
				}
			}
			tok = credential.Token{Value: tok.Value, ExpiresAt: time.Now().Add(c.tokens.Margin() + 5*time.Second)}
			continue
		}
		if err := c.Send(ctx, Frame{Type: TypeAuth, Token: next.Value}); err != nil {
			c.logger.Warn("send refreshed token", zap.Error(err))
			return
		}
		c.logger.Debug("connection re-authenticated", zap.Time("expires_at", next.ExpiresAt))
		tok = next
	}
}

// Send writes one frame. It fails with a TransportError when no socket is live.
func (c *Conn) Send(ctx context.Context, f Frame) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return &model.TransportError{Err: model.ErrNotConnected}
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(c.settings.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return &model.TransportError{Err: err}
	}
	return nil
}
