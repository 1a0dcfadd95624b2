package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/matheus3301/chatkit/internal/chatkit"
)

// Environment overrides, read from the process and from an optional .env
// file next to session.toml. The process environment wins.
const (
	EnvInstanceLocator = "CHATKIT_INSTANCE_LOCATOR"
	EnvUserID          = "CHATKIT_USER_ID"
	EnvEndpoint        = "CHATKIT_ENDPOINT"
	EnvTokenEndpoint   = "CHATKIT_TOKEN_ENDPOINT"
)

// Session is a per-session session.toml.
type Session struct {
	InstanceLocator string            `toml:"instance_locator"`
	UserID          string            `toml:"user_id"`
	Endpoint        string            `toml:"endpoint,omitempty"`
	TokenEndpoint   string            `toml:"token_endpoint"`
	TokenParams     map[string]string `toml:"token_params,omitempty"`
	TokenHeaders    map[string]string `toml:"token_headers,omitempty"`

	Timeouts  Timeouts  `toml:"timeouts"`
	Reconnect Reconnect `toml:"reconnect"`

	QueueLimit   int `toml:"queue_limit,omitempty"`
	ReplayWindow int `toml:"replay_window,omitempty"`
}

// Timeouts are duration strings such as "10s".
type Timeouts struct {
	Connect       time.Duration `toml:"connect,omitempty"`
	Command       time.Duration `toml:"command,omitempty"`
	Typing        time.Duration `toml:"typing,omitempty"`
	RefreshMargin time.Duration `toml:"refresh_margin,omitempty"`
}

// Reconnect tunes the backoff between connection attempts.
type Reconnect struct {
	InitialInterval time.Duration `toml:"initial_interval,omitempty"`
	MaxInterval     time.Duration `toml:"max_interval,omitempty"`
	Budget          time.Duration `toml:"budget,omitempty"`
}

// LoadSession reads session.toml and applies overrides from envFile (if it
// exists) and the process environment.
func LoadSession(path, envFile string) (*Session, error) {
	var s Session
	if err := decodeFile(path, &s); err != nil {
		return nil, err
	}
	if err := s.applyEnv(envFile); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &s, nil
}

// SaveSession writes session.toml.
func SaveSession(path string, s *Session) error {
	return encodeFile(path, s)
}

func (s *Session) applyEnv(envFile string) error {
	vars := map[string]string{}
	if envFile != "" {
		fileVars, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			vars = fileVars
		case errors.Is(err, fs.ErrNotExist):
		default:
			return fmt.Errorf("read %s: %w", envFile, err)
		}
	}
	lookup := func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return vars[key]
	}
	for key, dst := range map[string]*string{
		EnvInstanceLocator: &s.InstanceLocator,
		EnvUserID:          &s.UserID,
		EnvEndpoint:        &s.Endpoint,
		EnvTokenEndpoint:   &s.TokenEndpoint,
	} {
		if v := lookup(key); v != "" {
			*dst = v
		}
	}
	return nil
}

// Validate checks the fields a session cannot start without.
func (s *Session) Validate() error {
	var errs []error
	if s.InstanceLocator == "" {
		errs = append(errs, errors.New("instance_locator is required"))
	}
	if s.UserID == "" {
		errs = append(errs, errors.New("user_id is required"))
	}
	if s.TokenEndpoint == "" {
		errs = append(errs, errors.New("token_endpoint is required"))
	}
	return errors.Join(errs...)
}

// Chatkit converts the file into a session config. Zero values fall back to
// the chatkit defaults.
func (s *Session) Chatkit() chatkit.Config {
	cfg := chatkit.DefaultConfig()
	cfg.InstanceLocator = s.InstanceLocator
	cfg.UserID = s.UserID
	cfg.Endpoint = s.Endpoint
	cfg.TokenParams = s.TokenParams

	setDuration(&cfg.ConnectTimeout, s.Timeouts.Connect)
	setDuration(&cfg.CommandTimeout, s.Timeouts.Command)
	setDuration(&cfg.TypingTimeout, s.Timeouts.Typing)
	setDuration(&cfg.RefreshMargin, s.Timeouts.RefreshMargin)
	setDuration(&cfg.Reconnect.InitialInterval, s.Reconnect.InitialInterval)
	setDuration(&cfg.Reconnect.MaxInterval, s.Reconnect.MaxInterval)
	setDuration(&cfg.Reconnect.ReconnectBudget, s.Reconnect.Budget)
	if s.QueueLimit > 0 {
		cfg.QueueLimit = s.QueueLimit
	}
	if s.ReplayWindow > 0 {
		cfg.ReplayWindow = s.ReplayWindow
	}
	return cfg
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}
