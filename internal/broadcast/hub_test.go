package broadcast

import "testing"

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("ROOM01")
	b := h.Subscribe("ROOM01")
	other := h.Subscribe("ROOM02")

	event := UtteranceEvent{MessageID: "m1", Transcription: "hello"}
	if delivered := h.Publish("ROOM01", event); delivered != 2 {
		t.Fatalf("Publish() delivered to %d subscribers, want 2", delivered)
	}

	for _, sub := range []*Subscriber{a, b} {
		select {
		case got := <-sub.C:
			ev, ok := got.(UtteranceEvent)
			if !ok || ev.MessageID != "m1" {
				t.Fatalf("received %+v, want UtteranceEvent m1", got)
			}
		default:
			t.Fatalf("subscriber did not receive the event")
		}
	}

	select {
	case got := <-other.C:
		t.Fatalf("subscriber in another room received %+v", got)
	default:
	}
}

func TestUnsubscribeStopsDeliveryAndClosesChannel(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("ROOM01")
	h.Unsubscribe(sub)

	if _, open := <-sub.C; open {
		t.Fatalf("channel should be closed after Unsubscribe")
	}
	if delivered := h.Publish("ROOM01", ProcessingEvent{}); delivered != 0 {
		t.Fatalf("Publish() after unsubscribe delivered %d, want 0", delivered)
	}
	if h.RoomSize("ROOM01") != 0 {
		t.Fatalf("empty room should be removed")
	}

	// Double unsubscribe is harmless.
	h.Unsubscribe(sub)
}

func TestPublishDropsWhenSubscriberSaturated(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("ROOM01")

	for i := 0; i < subscriberBuffer; i++ {
		if delivered := h.Publish("ROOM01", MembershipEvent{Joined: true}); delivered != 1 {
			t.Fatalf("Publish() %d delivered %d, want 1", i, delivered)
		}
	}
	// Buffer full: the event is dropped, the hub does not block.
	if delivered := h.Publish("ROOM01", MembershipEvent{Joined: true}); delivered != 0 {
		t.Fatalf("Publish() on saturated subscriber delivered %d, want 0", delivered)
	}

	// Subscriber still observes the buffered events in order.
	for i := 0; i < subscriberBuffer; i++ {
		<-sub.C
	}
}

func TestPerSubscriberOrdering(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("ROOM01")

	for i := 0; i < 5; i++ {
		h.Publish("ROOM01", UtteranceEvent{MessageID: string(rune('a' + i))})
	}
	for i := 0; i < 5; i++ {
		ev := (<-sub.C).(UtteranceEvent)
		if ev.MessageID != string(rune('a'+i)) {
			t.Fatalf("event %d = %q, want %q", i, ev.MessageID, string(rune('a'+i)))
		}
	}
}
