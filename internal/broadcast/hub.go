package broadcast

import "sync"

// Rendering is one target-language version of an utterance.
type Rendering struct {
	Text  string
	Audio string // base64 synthesized speech
}

// UtteranceEvent is the fan-out payload for one processed utterance: the
// transcription plus every target-language rendering produced for the room.
// Receivers pick the entry matching their own target language.
type UtteranceEvent struct {
	MessageID     string
	SenderName    string
	Transcription string
	Translations  map[string]Rendering
}

// ProcessingEvent announces that the sender's utterance entered the pipeline.
type ProcessingEvent struct {
	SenderName string
}

// MembershipEvent announces a participant joining or leaving the room.
type MembershipEvent struct {
	Name   string
	Role   string
	Joined bool
}

const subscriberBuffer = 32

// Subscriber is one room member's event feed. Events are dropped rather
// than blocking the hub when the subscriber cannot keep up.
type Subscriber struct {
	C        chan any
	roomCode string
}

// Hub is an in-process publish-subscribe broadcaster keyed by room code.
// One writer (the sender's connection) publishes; every subscriber reads
// independently, which keeps membership changes off the broadcast path.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Subscriber]struct{})}
}

func (h *Hub) Subscribe(roomCode string) *Subscriber {
	sub := &Subscriber{
		C:        make(chan any, subscriberBuffer),
		roomCode: roomCode,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[roomCode]
	if room == nil {
		room = make(map[*Subscriber]struct{})
		h.rooms[roomCode] = room
	}
	room[sub] = struct{}{}
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[sub.roomCode]
	if room == nil {
		return
	}
	if _, ok := room[sub]; !ok {
		return
	}
	delete(room, sub)
	close(sub.C)
	if len(room) == 0 {
		delete(h.rooms, sub.roomCode)
	}
}

// Publish delivers event to every subscriber of the room. Delivery order
// across subscribers is not guaranteed; each subscriber observes events in
// publish order. Returns how many subscribers received the event.
func (h *Hub) Publish(roomCode string, event any) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for sub := range h.rooms[roomCode] {
		select {
		case sub.C <- event:
			delivered++
		default:
			// Saturated subscriber: drop rather than stall the room.
		}
	}
	return delivered
}

// RoomSize reports the current number of subscribers in a room.
func (h *Hub) RoomSize(roomCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomCode])
}
