package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/voxlate/voxlate/internal/broadcast"
	"github.com/voxlate/voxlate/internal/protocol"
	"github.com/voxlate/voxlate/internal/session"
	"github.com/voxlate/voxlate/internal/speech"
)

type roomFixture struct {
	registry *session.Registry
	hub      *broadcast.Hub
	rooms    *Rooms
}

func newRoomFixture(t *testing.T, provider speech.Provider) *roomFixture {
	t.Helper()
	registry := session.NewRegistry(session.NewInMemoryStore())
	hub := broadcast.NewHub()
	pipeline := speech.NewPipeline(provider, speech.PipelineOptions{RetryMax: 1, RetryBase: time.Millisecond})
	return &roomFixture{
		registry: registry,
		hub:      hub,
		rooms:    NewRooms(registry, hub, pipeline, testTranslateOptions()),
	}
}

type roomConn struct {
	inbound  chan any
	outbound chan any
	done     chan struct{}
	cancel   context.CancelFunc
}

func (f *roomFixture) connect(t *testing.T, sess *session.Session, p *session.Participant, connID string) *roomConn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c := &roomConn{
		inbound:  make(chan any, 16),
		outbound: make(chan any, 64),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	go func() {
		defer close(c.done)
		_ = f.rooms.RunConnection(ctx, sess, p, connID, c.inbound, c.outbound)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-c.done:
		case <-time.After(eventTimeout):
			t.Errorf("connection %s did not shut down", connID)
		}
	})
	return c
}

func (f *roomFixture) waitRoomSize(t *testing.T, roomCode string, want int) {
	t.Helper()
	deadline := time.Now().Add(eventTimeout)
	for time.Now().Before(deadline) {
		if f.hub.RoomSize(roomCode) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("room size never reached %d", want)
}

func TestRoomUtteranceFanOut(t *testing.T) {
	f := newRoomFixture(t, &speech.MockProvider{Transcript: "hello"})
	ctx := context.Background()

	sess, sender, err := f.registry.Create(ctx, "Alice", "en")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, receiver, err := f.registry.Join(ctx, sess.RoomCode, "Bob", "es")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	rc := f.connect(t, sess, receiver, "conn-r")
	expectEvent[protocol.ConnectionEstablished](t, rc.outbound)
	f.waitRoomSize(t, sess.RoomCode, 1)

	sc := f.connect(t, sess, sender, "conn-s")
	est := expectEvent[protocol.ConnectionEstablished](t, sc.outbound)
	if est.Role != string(session.RoleSender) || est.RoomCode != sess.RoomCode {
		t.Fatalf("established = %+v", est)
	}
	joined := expectEvent[protocol.ParticipantJoined](t, rc.outbound)
	if joined.ParticipantName != "Alice" {
		t.Fatalf("joined = %+v, want Alice", joined)
	}
	f.waitRoomSize(t, sess.RoomCode, 2)

	sc.inbound <- protocol.AudioFile{
		Type:      protocol.TypeAudioFile,
		AudioData: base64.StdEncoding.EncodeToString([]byte("recorded audio")),
	}
	expectEvent[protocol.Processing](t, sc.outbound)

	started := expectEvent[protocol.ProcessingStarted](t, rc.outbound)
	if started.SenderName != "Alice" {
		t.Fatalf("processing_started = %+v", started)
	}
	msg := expectEvent[protocol.NewMessage](t, rc.outbound)
	if msg.Transcription != "hello" || msg.Translation != "[es] hello" {
		t.Fatalf("new_message = %+v", msg)
	}
	if msg.Audio == "" {
		t.Fatalf("new_message has no audio")
	}
	if _, err := base64.StdEncoding.DecodeString(msg.Audio); err != nil {
		t.Fatalf("audio is not valid base64: %v", err)
	}

	tr := expectEvent[protocol.Transcription](t, sc.outbound)
	if tr.Text != "hello" {
		t.Fatalf("sender transcription = %+v", tr)
	}

	// The utterance is persisted completed with its translation.
	msgs, translations, err := f.registry.History(ctx, sess.ID, "es")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(msgs))
	}
	if translations[0] == nil || translations[0].Text != "[es] hello" {
		t.Fatalf("stored translation = %+v", translations[0])
	}
}

type failingTranslator struct {
	*speech.MockProvider
}

func (p *failingTranslator) Translate(context.Context, string, string, string) (string, error) {
	return "", errors.New("translator unavailable")
}

func TestRoomUtteranceFailureIsRecorded(t *testing.T) {
	f := newRoomFixture(t, &failingTranslator{MockProvider: &speech.MockProvider{Transcript: "hello"}})
	ctx := context.Background()

	sess, sender, err := f.registry.Create(ctx, "Alice", "en")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, _, err := f.registry.Join(ctx, sess.RoomCode, "Bob", "es"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	sc := f.connect(t, sess, sender, "conn-s")
	expectEvent[protocol.ConnectionEstablished](t, sc.outbound)
	f.waitRoomSize(t, sess.RoomCode, 1)

	sc.inbound <- protocol.AudioFile{
		Type:      protocol.TypeAudioFile,
		AudioData: base64.StdEncoding.EncodeToString([]byte("recorded audio")),
	}
	expectEvent[protocol.Processing](t, sc.outbound)

	failed := expectEvent[protocol.ErrorEvent](t, sc.outbound)
	if failed.Error != "processing_failed" {
		t.Fatalf("error event = %+v, want processing_failed", failed)
	}

	// The utterance survives as a failed record carrying the cause.
	msgs, err := f.registry.Messages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("len(messages) = %d, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Status != session.StatusFailed {
		t.Fatalf("message status = %q, want %q", m.Status, session.StatusFailed)
	}
	if m.Transcription != "hello" {
		t.Fatalf("message transcription = %q, want hello", m.Transcription)
	}
	if !strings.Contains(m.ErrorDetail, "translator unavailable") {
		t.Fatalf("message error detail = %q, want the translation failure", m.ErrorDetail)
	}

	// Failed utterances stay out of replayed history.
	history, _, err := f.registry.History(ctx, sess.ID, "es")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("len(history) = %d, want 0", len(history))
	}
}

func TestRoomSenderDisconnectEndsSession(t *testing.T) {
	f := newRoomFixture(t, speech.NewMockProvider())
	ctx := context.Background()

	sess, sender, err := f.registry.Create(ctx, "Alice", "en")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, receiver, err := f.registry.Join(ctx, sess.RoomCode, "Bob", "es")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	rc := f.connect(t, sess, receiver, "conn-r")
	expectEvent[protocol.ConnectionEstablished](t, rc.outbound)
	f.waitRoomSize(t, sess.RoomCode, 1)

	sc := f.connect(t, sess, sender, "conn-s")
	expectEvent[protocol.ConnectionEstablished](t, sc.outbound)
	expectEvent[protocol.ParticipantJoined](t, rc.outbound)

	close(sc.inbound)
	select {
	case <-sc.done:
	case <-time.After(eventTimeout):
		t.Fatalf("sender connection did not close")
	}

	left := expectEvent[protocol.ParticipantLeft](t, rc.outbound)
	if left.ParticipantName != "Alice" {
		t.Fatalf("participant_left = %+v", left)
	}
	expectEvent[protocol.Info](t, rc.outbound)

	// The receiver connection closes once the sender ends the session.
	select {
	case <-rc.done:
	case <-time.After(eventTimeout):
		t.Fatalf("receiver connection did not close after session end")
	}

	got, err := f.registry.GetByCode(ctx, sess.RoomCode)
	if err != nil {
		t.Fatalf("GetByCode() error = %v", err)
	}
	if got.Active || got.EndedAt == nil {
		t.Fatalf("session = %+v, want ended", got)
	}
}

func TestRoomReceiverGetsHistoryOnConnect(t *testing.T) {
	f := newRoomFixture(t, speech.NewMockProvider())
	ctx := context.Background()

	sess, sender, err := f.registry.Create(ctx, "Alice", "en")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	msg, err := f.registry.BeginMessage(ctx, sess, sender, "good morning", nil)
	if err != nil {
		t.Fatalf("BeginMessage() error = %v", err)
	}
	if _, err := f.registry.SaveTranslation(ctx, msg.ID, "es", "buenos dias", []byte("wav")); err != nil {
		t.Fatalf("SaveTranslation() error = %v", err)
	}
	if err := f.registry.CompleteMessage(ctx, msg.ID); err != nil {
		t.Fatalf("CompleteMessage() error = %v", err)
	}

	_, spanish, err := f.registry.Join(ctx, sess.RoomCode, "Bob", "es")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	rc := f.connect(t, sess, spanish, "conn-es")
	expectEvent[protocol.ConnectionEstablished](t, rc.outbound)
	h := expectEvent[protocol.HistoryMessage](t, rc.outbound)
	if h.Transcription != "good morning" || h.Translation != "buenos dias" {
		t.Fatalf("history = %+v", h)
	}

	// A language with no stored translation still gets the transcription.
	_, german, err := f.registry.Join(ctx, sess.RoomCode, "Greta", "de")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	gc := f.connect(t, sess, german, "conn-de")
	expectEvent[protocol.ConnectionEstablished](t, gc.outbound)
	gh := expectEvent[protocol.HistoryMessage](t, gc.outbound)
	if gh.Transcription != "good morning" || gh.Translation != "" {
		t.Fatalf("history without translation = %+v", gh)
	}
}

func TestRoomReceiverSkipsUnrenderedLanguages(t *testing.T) {
	f := newRoomFixture(t, speech.NewMockProvider())
	ctx := context.Background()

	sess, _, err := f.registry.Create(ctx, "Alice", "en")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, receiver, err := f.registry.Join(ctx, sess.RoomCode, "Bob", "es")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	rc := f.connect(t, sess, receiver, "conn-r")
	expectEvent[protocol.ConnectionEstablished](t, rc.outbound)
	f.waitRoomSize(t, sess.RoomCode, 1)

	// An event without an "es" rendering is skipped without error.
	f.hub.Publish(sess.RoomCode, broadcast.UtteranceEvent{
		MessageID:     "m1",
		SenderName:    "Alice",
		Transcription: "hallo",
		Translations:  map[string]broadcast.Rendering{"de": {Text: "hallo"}},
	})
	f.hub.Publish(sess.RoomCode, broadcast.UtteranceEvent{
		MessageID:     "m2",
		SenderName:    "Alice",
		Transcription: "hello",
		Translations:  map[string]broadcast.Rendering{"es": {Text: "hola"}},
	})

	msg := expectEvent[protocol.NewMessage](t, rc.outbound)
	if msg.MessageID != "m2" || msg.Translation != "hola" {
		t.Fatalf("new_message = %+v, want m2/hola only", msg)
	}
}
