package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatkit/internal/model"
	"github.com/matheus3301/chatkit/internal/transport"
	"go.uber.org/zap"
)

const DefaultTimeout = 10 * time.Second

// Command names understood by the backend.
const (
	SendMessage         = "send_message"
	JoinRoom            = "join_room"
	LeaveRoom           = "leave_room"
	CreateRoom          = "create_room"
	UpdateRoom          = "update_room"
	DeleteRoom          = "delete_room"
	AddUsersToRoom      = "add_users_to_room"
	RemoveUsersFromRoom = "remove_users_from_room"
	JoinableRooms       = "get_joinable_rooms"
	SetCursor           = "set_cursor"
	Typing              = "typing"
	FetchMessages       = "fetch_messages"
)

// Sender writes frames to the realtime connection.
type Sender interface {
	Send(ctx context.Context, f transport.Frame) error
}

type result struct {
	data json.RawMessage
	err  error
}

type entry struct {
	name string
	sent time.Time
	ch   chan result
}

// Dispatcher correlates commands with their ack, reject or timeout. It never
// retries; callers decide what to do with a transient failure.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	inflight map[string]*entry
}

// NewDispatcher creates a dispatcher. A zero timeout uses DefaultTimeout.
func NewDispatcher(sender Sender, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sender:   sender,
		timeout:  timeout,
		logger:   logger,
		inflight: make(map[string]*entry),
	}
}

// Do sends a command and waits for its outcome.
func (d *Dispatcher) Do(ctx context.Context, name string, body any) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}

	id := uuid.NewString()
	e := &entry{name: name, sent: time.Now(), ch: make(chan result, 1)}
	d.mu.Lock()
	d.inflight[id] = e
	d.mu.Unlock()

	if err := d.sender.Send(ctx, transport.Frame{Type: transport.TypeCommand, ID: id, Command: name, Data: data}); err != nil {
		d.take(id)
		return nil, fmt.Errorf("send %s: %w", name, err)
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case r := <-e.ch:
		return r.data, r.err
	case <-timer.C:
		if d.take(id) != nil {
			d.logger.Warn("command timed out", zap.String("command", name), zap.String("id", id))
			return nil, fmt.Errorf("%s: %w", name, model.ErrCommandTimeout)
		}
	case <-ctx.Done():
		if d.take(id) != nil {
			return nil, ctx.Err()
		}
	}
	// The ack removed the entry first; it wins.
	r := <-e.ch
	return r.data, r.err
}

// take removes and returns an in-flight entry. Whoever takes it resolves it.
func (d *Dispatcher) take(id string) *entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.inflight[id]
	if !ok {
		return nil
	}
	delete(d.inflight, id)
	return e
}

// Ack resolves a command successfully. It returns false for unknown or
// already-resolved ids (a late ack).
func (d *Dispatcher) Ack(id string, data json.RawMessage) bool {
	e := d.take(id)
	if e == nil {
		return false
	}
	d.logger.Debug("command acknowledged", zap.String("command", e.name), zap.Duration("latency", time.Since(e.sent)))
	e.ch <- result{data: data}
	return true
}

// Reject resolves a command with the server's refusal.
func (d *Dispatcher) Reject(id string, body *transport.ErrorBody) bool {
	e := d.take(id)
	if e == nil {
		return false
	}
	rej := &model.CommandRejected{Command: e.name}
	if body != nil {
		rej.Status = body.Status
		rej.Type = body.Type
		rej.Description = body.Description
	}
	e.ch <- result{err: rej}
	return true
}

// Name returns the command name of an in-flight id.
func (d *Dispatcher) Name(id string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.inflight[id]
	if !ok {
		return "", false
	}
	return e.name, true
}

// FailAll resolves every in-flight command with err.
func (d *Dispatcher) FailAll(err error) {
	d.mu.Lock()
	entries := d.inflight
	d.inflight = make(map[string]*entry)
	d.mu.Unlock()
	for _, e := range entries {
		e.ch <- result{err: fmt.Errorf("%s: %w", e.name, err)}
	}
}

// InFlight returns the number of unresolved commands.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}
