package transport

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Frame types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeCommand     = "command"
	TypeAuth        = "auth"
	TypeEvent       = "event"
	TypeSubError    = "sub_error"
	TypeAck         = "ack"
	TypeReject      = "reject"
	TypeError       = "error"
)

// Frame is one JSON text message on the realtime socket, in either direction.
type Frame struct {
	Type      string          `json:"type"`
	SubID     string          `json:"sub_id,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Target    string          `json:"target,omitempty"`
	Params    map[string]any  `json:"params,omitempty"`
	ID        string          `json:"id,omitempty"`
	Command   string          `json:"command,omitempty"`
	EventName string          `json:"event_name,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Token     string          `json:"token,omitempty"`
	Error     *ErrorBody      `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
}

// ErrorBody is the server's error description.
type ErrorBody struct {
	Status      int    `json:"status"`
	Type        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *ErrorBody) String() string {
	if e == nil {
		return "unknown error"
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Type, e.Description)
}

// Locator is a parsed instance locator of the form version:cluster:instance.
type Locator struct {
	Version  string
	Cluster  string
	Instance string
}

// ParseLocator splits an instance locator.
func ParseLocator(s string) (Locator, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Locator{}, fmt.Errorf("invalid instance locator %q: want version:cluster:instance", s)
	}
	return Locator{Version: parts[0], Cluster: parts[1], Instance: parts[2]}, nil
}

// Host returns the cluster host name.
func (l Locator) Host() string {
	return l.Cluster + ".pusherplatform.io"
}

// RealtimeURL builds the websocket URL. An empty endpoint is derived from the
// locator's cluster.
func RealtimeURL(endpoint string, loc Locator, userID string) (string, error) {
	if endpoint == "" {
		endpoint = fmt.Sprintf("wss://%s/services/chatkit/%s/%s/realtime", loc.Host(), loc.Version, loc.Instance)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("instance", loc.Instance)
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
