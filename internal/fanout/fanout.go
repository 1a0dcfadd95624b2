package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatkit/internal/model"
	"go.uber.org/zap"
)

const DefaultQueueLimit = 1024

// AttachmentResolver turns a fetch-required attachment into a usable link.
type AttachmentResolver interface {
	Fetch(ctx context.Context, link string) (model.FetchedAttachment, error)
}

// Fanout delivers events to listeners through one bounded queue and goroutine
// per subscription, so a slow listener only delays itself.
type Fanout struct {
	limit    int
	resolver AttachmentResolver
	logger   *zap.Logger

	mu     sync.Mutex
	queues map[string]*queue
	wg     sync.WaitGroup
}

// New creates a fanout. resolver may be nil.
func New(limit int, resolver AttachmentResolver, logger *zap.Logger) *Fanout {
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{
		limit:    limit,
		resolver: resolver,
		logger:   logger,
		queues:   make(map[string]*queue),
	}
}

type queue struct {
	subID    string
	listener model.Listener
	limit    int

	mu       sync.Mutex
	items    []model.Event
	overflow bool
	closed   bool
	notify   chan struct{}

	lastSeq uint64
}

// Register starts delivery for a subscription. Registering an id twice
// replaces nothing and returns false.
func (f *Fanout) Register(subID string, l model.Listener) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.queues[subID]; ok {
		return false
	}
	q := &queue{
		subID:    subID,
		listener: l,
		limit:    f.limit,
		notify:   make(chan struct{}, 1),
	}
	f.queues[subID] = q
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.run(q)
	}()
	return true
}

// Deliver enqueues e for e.SubscriptionID without blocking. Events for
// unregistered subscriptions are dropped.
func (f *Fanout) Deliver(e model.Event) {
	f.mu.Lock()
	q, ok := f.queues[e.SubscriptionID]
	f.mu.Unlock()
	if !ok {
		return
	}
	q.push(e)
}

// Close stops a subscription's queue after the events already queued are delivered.
func (f *Fanout) Close(subID string) {
	f.mu.Lock()
	q, ok := f.queues[subID]
	delete(f.queues, subID)
	f.mu.Unlock()
	if ok {
		q.close()
	}
}

// CloseAll closes every queue and waits for the workers to finish.
func (f *Fanout) CloseAll() {
	f.mu.Lock()
	qs := f.queues
	f.queues = make(map[string]*queue)
	f.mu.Unlock()
	for _, q := range qs {
		q.close()
	}
	f.wg.Wait()
}

// Pending returns the number of undelivered events for a subscription.
func (f *Fanout) Pending(subID string) int {
	f.mu.Lock()
	q, ok := f.queues[subID]
	f.mu.Unlock()
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) push(e model.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(q.items) >= q.limit {
		q.items = q.items[1:]
		q.overflow = true
	}
	q.items = append(q.items, e)
	q.mu.Unlock()
	q.signal()
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// take returns the queued batch, whether events were dropped since the last
// batch and whether the queue is finished.
func (q *queue) take() ([]model.Event, bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	overflow := q.overflow
	q.overflow = false
	return items, overflow, q.closed && len(items) == 0 && !overflow
}

func (f *Fanout) run(q *queue) {
	for range q.notify {
		for {
			items, overflow, done := q.take()
			if done {
				return
			}
			if len(items) == 0 && !overflow {
				break
			}
			if overflow {
				f.logger.Warn("listener queue overflow", zap.String("sub_id", q.subID))
				f.call(q, model.Event{
					Kind:           model.ErrorOccurred,
					SubscriptionID: q.subID,
					Err:            model.ErrListenerOverflow,
					At:             time.Now(),
				})
			}
			for _, e := range items {
				if e.Seq != 0 {
					if e.Seq <= q.lastSeq {
						continue
					}
					q.lastSeq = e.Seq
				}
				f.call(q, f.resolve(e))
			}
		}
	}
}

func (f *Fanout) resolve(e model.Event) model.Event {
	if f.resolver == nil || e.Kind != model.NewMessage || e.Message == nil ||
		e.Message.Attachment == nil || !e.Message.Attachment.FetchRequired {
		return e
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fetched, err := f.resolver.Fetch(ctx, e.Message.Attachment.Link)
	if err != nil {
		f.logger.Warn("attachment fetch failed", zap.Error(err), zap.Int64("message_id", e.Message.ID))
		return e
	}
	m := *e.Message
	att := *m.Attachment
	att.Link = fetched.Link
	att.FetchRequired = false
	m.Attachment = &att
	e.Message = &m
	return e
}

func (f *Fanout) call(q *queue, e model.Event) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("listener panicked",
				zap.String("sub_id", q.subID),
				zap.String("kind", string(e.Kind)),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	q.listener.Dispatch(e)
}
