package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestBasicPublishSubscribe(t *testing.T) {
	b := New()
	var got Event
	_, err := b.Subscribe("test.event", func(e Event) error {
		got = e
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err = b.Publish(NewEvent("test.event", "tester", 123)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got == nil {
		t.Fatal("handler not called")
	}
	if got.Source() != "tester" || got.Data() != 123 {
		t.Fatalf("unexpected event: %s %v", got.Source(), got.Data())
	}
}

func TestDeliveryOrder(t *testing.T) {
	b := New()
	var order []int
	for i := range 3 {
		if _, err := b.Subscribe("ev", func(Event) error { order = append(order, i); return nil }); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}
	_ = b.Publish(NewEvent("ev", "src", nil))
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("handlers ran out of order: %v", order)
	}
}

func TestPublishJoinsHandlerErrors(t *testing.T) {
	b := New()
	first, second := errors.New("first"), errors.New("second")
	_, _ = b.Subscribe("x", func(Event) error { return first })
	_, _ = b.Subscribe("x", func(Event) error { return second })

	err := b.Publish(NewEvent("x", "src", nil))
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Fatalf("expected both errors, got %v", err)
	}
	if m := b.GetMetrics(); m.Errors != 1 || m.DeliveredHandlers != 2 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestPublishAsyncReturnsErrorChannel(t *testing.T) {
	b := New()
	handlerErr := errors.New("fail")
	_, err := b.Subscribe("x", func(e Event) error { return handlerErr })
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	if e := <-b.PublishAsync(NewEvent("x", "src", nil)); !errors.Is(e, handlerErr) {
		t.Fatalf("expected handler error, got %v", e)
	}
}

func TestEventTypesIsolation(t *testing.T) {
	b := New()
	count1, count2 := 0, 0
	_, _ = b.Subscribe(EventDesyncDetected, func(e Event) error { count1++; return nil })
	_, _ = b.Subscribe(EventSessionReset, func(e Event) error { count2++; return nil })

	_ = b.Publish(NewEvent(EventDesyncDetected, "src", nil))
	if count1 != 1 || count2 != 0 {
		t.Fatalf("event type isolation failed: %d %d", count1, count2)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	calls := 0
	sub, err := b.Subscribe("ev", func(Event) error { calls++; return nil })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if !sub.IsActive() || sub.EventType() != "ev" || sub.ID() == "" {
		t.Fatalf("unexpected subscription state")
	}
	if err = b.Unsubscribe(sub); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	_ = b.Unsubscribe(sub)
	_ = b.Unsubscribe(nil)

	_ = b.Publish(NewEvent("ev", "src", nil))
	if calls != 0 {
		t.Fatalf("cancelled handler called %d times", calls)
	}
	if sub.IsActive() {
		t.Fatal("subscription still active")
	}
	if m := b.GetMetrics(); m.SubscribersActive != 0 || m.Published != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	b := New()
	var calls atomic.Int64
	subs := make([]Subscription, 0, 50)
	for i := 0; i < 50; i++ {
		sub, err := b.Subscribe("ev", func(Event) error { calls.Add(1); return nil })
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		subs = append(subs, sub)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = b.Publish(NewEvent("ev", "src", i))
		}
	}()
	go func() {
		defer wg.Done()
		for _, sub := range subs {
			_ = sub.Cancel()
		}
	}()
	wg.Wait()

	before := calls.Load()
	_ = b.Publish(NewEvent("ev", "src", nil))
	if calls.Load() != before {
		t.Fatal("cancelled handlers still called")
	}
	if m := b.GetMetrics(); m.SubscribersActive != 0 || m.DeliveredHandlers != uint64(before) {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestSubscribeNilHandler(t *testing.T) {
	if _, err := New().Subscribe("ev", nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}
