package eventbus

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := New()
	sub := b.Subscribe()

	b.Publish(Event{Kind: KindRequest, Source: "a"})
	b.Publish(Event{Kind: KindResponse, Source: "b"})

	first := <-sub.Events()
	second := <-sub.Events()

	if first.Source != "a" || second.Source != "b" {
		t.Fatalf("events delivered out of order: %+v, %+v", first, second)
	}
}

func TestPublishCarriesPayloadVerbatim(t *testing.T) {
	b := New()
	sub := b.Subscribe()

	payload := map[string]interface{}{"unit_id": uint8(1), "function_code": uint8(3)}
	b.Publish(Event{Kind: KindRequest, Source: "a", Payload: payload})

	got := <-sub.Events()
	if diff := cmp.Diff(payload, got.Payload); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	b := New()
	sub := b.Subscribe()

	for i := 0; i < defaultQueueDepth+10; i++ {
		b.Publish(Event{Kind: KindRequest})
	}

	if sub.Dropped() == 0 {
		t.Fatalf("expected some events to be dropped")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	sub.Unsubscribe()

	b.Publish(Event{Kind: KindRequest})

	if _, ok := <-sub.Events(); ok {
		t.Fatalf("expected channel to be closed after unsubscribe")
	}
}
