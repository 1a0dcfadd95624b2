package bus

import (
	"testing"
	"time"

	"github.com/matheus3301/chatkit/internal/model"
)

func recv(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case evt, ok := <-s.C:
		if !ok {
			t.Fatal("channel closed")
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	chat := b.Subscribe(ChatPrefix, 10)
	defer chat.Cancel()

	b.Publish(Event{Kind: StatusChanged})
	b.Publish(FromChat(model.Event{Kind: model.NewMessage, RoomID: "42"}))

	evt := recv(t, chat)
	if evt.Kind != "chatkit.new_message" {
		t.Errorf("kind = %q, want chatkit.new_message", evt.Kind)
	}
	if e, ok := evt.Payload.(model.Event); !ok || e.RoomID != "42" {
		t.Errorf("payload = %#v", evt.Payload)
	}
	select {
	case evt := <-chat.C:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelClosesChannel(t *testing.T) {
	b := New()
	s := b.Subscribe(SessionPrefix, 10)
	s.Cancel()
	s.Cancel()

	b.Publish(Event{Kind: StatusChanged})
	if _, ok := <-s.C; ok {
		t.Error("received event after Cancel()")
	}
}

func TestSlowConsumerDrops(t *testing.T) {
	b := New()
	s := b.Subscribe("", 1)
	defer s.Cancel()

	b.Publish(Event{Kind: "a"})
	b.Publish(Event{Kind: "b"})

	if evt := recv(t, s); evt.Kind != "a" {
		t.Errorf("got %q, want a", evt.Kind)
	}
	if s.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", s.Dropped())
	}
}

func TestCloseEndsEveryConsumer(t *testing.T) {
	b := New()
	s1 := b.Subscribe(ChatPrefix, 1)
	s2 := b.Subscribe(SessionPrefix, 1)
	b.Close()
	for _, s := range []*Subscription{s1, s2} {
		if _, ok := <-s.C; ok {
			t.Error("channel still open after Close()")
		}
	}
	late := b.Subscribe("", 1)
	if _, ok := <-late.C; ok {
		t.Error("subscription after Close() should be closed")
	}
}
