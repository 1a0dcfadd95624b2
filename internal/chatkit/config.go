package chatkit

import (
	"errors"
	"time"

	"github.com/matheus3301/chatkit/internal/command"
	"github.com/matheus3301/chatkit/internal/credential"
	"github.com/matheus3301/chatkit/internal/fanout"
	"github.com/matheus3301/chatkit/internal/state"
	"github.com/matheus3301/chatkit/internal/transport"
)

const (
	DefaultConnectTimeout = 30 * time.Second
	// TypingThrottle is the minimum interval between typing notifications
	// sent for one room.
	TypingThrottle = 500 * time.Millisecond
)

// Config is everything a session needs besides its credential provider.
type Config struct {
	// InstanceLocator is "v1:<cluster>:<instance>".
	InstanceLocator string
	UserID          string
	// Endpoint overrides the realtime base URL derived from the locator.
	Endpoint    string
	TokenParams map[string]string

	RefreshMargin  time.Duration
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	TypingTimeout  time.Duration
	QueueLimit     int
	ReplayWindow   int
	Reconnect      transport.Settings
}

// DefaultConfig returns a config with every tunable at its default.
func DefaultConfig() Config {
	return Config{
		RefreshMargin:  credential.DefaultRefreshMargin,
		ConnectTimeout: DefaultConnectTimeout,
		CommandTimeout: command.DefaultTimeout,
		TypingTimeout:  state.DefaultTypingTimeout,
		QueueLimit:     fanout.DefaultQueueLimit,
		ReplayWindow:   state.DefaultReplayWindow,
		Reconnect:      transport.DefaultSettings(),
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = d.RefreshMargin
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = d.CommandTimeout
	}
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = d.TypingTimeout
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = d.QueueLimit
	}
	if c.ReplayWindow <= 0 {
		c.ReplayWindow = d.ReplayWindow
	}
	if c.Reconnect == (transport.Settings{}) {
		c.Reconnect = d.Reconnect
	}
	return c
}

func (c Config) validate() error {
	if c.InstanceLocator == "" {
		return errors.New("instance locator is required")
	}
	if c.UserID == "" {
		return errors.New("user id is required")
	}
	return nil
}
