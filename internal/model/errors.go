package model

import (
	"errors"
	"fmt"
)

var (
	// ErrCommandTimeout is a transient failure; the caller decides whether to retry.
	ErrCommandTimeout   = errors.New("command timed out")
	ErrNotConnected     = errors.New("not connected")
	ErrSessionClosed    = errors.New("session closed")
	ErrListenerOverflow = errors.New("listener queue overflow: oldest events dropped")
	ErrUnknownRoom      = errors.New("unknown room")
	ErrNoCurrentUser    = errors.New("current user not received yet")
)

// AuthError is returned when the backend rejects the credential.
type AuthError struct {
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("authentication rejected (status %d)", e.Status)
	}
	return fmt.Sprintf("authentication rejected (status %d): %v", e.Status, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError reports a lost or unreachable connection.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("transport failure after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed or unexpected frame.
type ProtocolError struct {
	SubscriptionID string
	EventName      string
	Err            error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on %s (sub %s): %v", e.EventName, e.SubscriptionID, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// CommandRejected is the server's refusal of a command.
type CommandRejected struct {
	Command     string
	Status      int
	Type        string
	Description string
}

func (e *CommandRejected) Error() string {
	return fmt.Sprintf("%s rejected (%d %s): %s", e.Command, e.Status, e.Type, e.Description)
}

// StateInvariantViolation reports a message gap in a room.
type StateInvariantViolation struct {
	RoomID   string
	Expected int64
	Got      int64
}

func (e *StateInvariantViolation) Error() string {
	return fmt.Sprintf("room %s: expected message %d, got %d", e.RoomID, e.Expected, e.Got)
}
