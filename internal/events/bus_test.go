package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

func TestPublishRingBuffer(t *testing.T) {
	b := NewBus(2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Publish(ctx, Event{Topic: TopicYNAB})
	}

	events := b.Recent()
	if len(events) != 2 {
		t.Fatalf("events len = %d, want 2", len(events))
	}
	if events[0].ID != 2 || events[1].ID != 3 {
		t.Fatalf("events ring contains IDs [%d, %d], want [2, 3]", events[0].ID, events[1].ID)
	}
	if events[1].Timestamp.IsZero() {
		t.Fatal("timestamp not stamped")
	}
}

func TestSubscribeReceivesAndCancels(t *testing.T) {
	b := NewBus(10)
	ch := make(chan Event, 1)
	cancel := b.Subscribe(ch)

	_ = b.Publish(context.Background(), Event{Topic: TopicYNAB, Data: map[string]any{"transactions_imported": 2}})

	select {
	case ev := <-ch:
		if ev.Topic != TopicYNAB || ev.Data["transactions_imported"] != 2 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	cancel()
	if b.Subscribers() != 0 {
		t.Fatalf("Subscribers() = %d after cancel, want 0", b.Subscribers())
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus(10)
	ch := make(chan Event) // unbuffered, never read
	defer b.Subscribe(ch)()

	done := make(chan struct{})
	go func() {
		_ = b.Publish(context.Background(), Event{Topic: TopicYNAB})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if b.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", b.Len())
	}
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, Event) error {
	f.calls++
	return errors.New("broker down")
}

func TestFanoutContinuesAfterError(t *testing.T) {
	bad := &failingPublisher{}
	bus := NewBus(5)

	err := Fanout{bad, nil, bus}.Publish(context.Background(), Event{Topic: TopicYNAB})
	if err == nil {
		t.Fatal("expected first error to be returned")
	}
	if bad.calls != 1 {
		t.Fatalf("failing publisher calls = %d, want 1", bad.calls)
	}
	if bus.Len() != 1 {
		t.Fatalf("bus did not receive the event after an earlier failure")
	}
}

func TestEncodeMessage(t *testing.T) {
	ts := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	msg, err := encodeMessage(Event{
		Topic:     TopicYNAB,
		Timestamp: ts,
		Data:      map[string]any{"transactions_imported": 3},
	})
	if err != nil {
		t.Fatalf("encodeMessage: %v", err)
	}
	if msg.ContentType != "application/json" || msg.DeliveryMode != amqp091.Persistent {
		t.Fatalf("unexpected publishing headers: %+v", msg)
	}
	if msg.Type != TopicYNAB || !msg.Timestamp.Equal(ts) {
		t.Fatalf("Type/Timestamp = %q/%v", msg.Type, msg.Timestamp)
	}

	var body map[string]int
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["transactions_imported"] != 3 {
		t.Fatalf("body = %v", body)
	}
}
