package session

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newRegistry() *Registry {
	return NewRegistry(NewInMemoryStore())
}

func TestCreateSessionAndSender(t *testing.T) {
	r := newRegistry()
	sess, sender, err := r.Create(context.Background(), "Alice", "en")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(sess.RoomCode) != roomCodeLength {
		t.Fatalf("room code %q has length %d, want %d", sess.RoomCode, len(sess.RoomCode), roomCodeLength)
	}
	if !sess.Active {
		t.Fatalf("new session should be active")
	}
	if sender.Role != RoleSender {
		t.Fatalf("sender role = %q, want %q", sender.Role, RoleSender)
	}
	if sender.TargetLanguage != "en" {
		t.Fatalf("sender target language = %q, want session source language", sender.TargetLanguage)
	}
}

func TestCreateDefaults(t *testing.T) {
	r := newRegistry()
	sess, _, err := r.Create(context.Background(), "  ", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sess.SenderName != "Anonymous" {
		t.Fatalf("SenderName = %q, want Anonymous", sess.SenderName)
	}
	if sess.SourceLanguage != "en" {
		t.Fatalf("SourceLanguage = %q, want en", sess.SourceLanguage)
	}
}

func TestRoomCodesUnique(t *testing.T) {
	r := newRegistry()
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		sess, _, err := r.Create(context.Background(), "Alice", "en")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if seen[sess.RoomCode] {
			t.Fatalf("duplicate room code %q", sess.RoomCode)
		}
		seen[sess.RoomCode] = true
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	r := newRegistry()
	if _, _, err := r.Join(context.Background(), "NOPE99", "Bob", "es"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Join(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestJoinEndedSession(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()
	sess, sender, err := r.Create(ctx, "Alice", "en")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, _, err := r.Leave(ctx, sender.ID); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if _, _, err := r.Join(ctx, sess.RoomCode, "Bob", "es"); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("Join(ended) error = %v, want ErrSessionEnded", err)
	}
}

func TestJoinIsCaseInsensitiveOnCode(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()
	sess, _, err := r.Create(ctx, "Alice", "en")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	lower := "  " + strings.ToLower(sess.RoomCode) + " "
	if _, _, err := r.Join(ctx, lower, "Bob", "es"); err != nil {
		t.Fatalf("Join() with lowercased padded code error = %v", err)
	}
}

func TestSenderLeaveEndsSession(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()
	sess, sender, err := r.Create(ctx, "Alice", "en")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, _, err := r.Join(ctx, sess.RoomCode, "Bob", "es"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	_, ended, err := r.Leave(ctx, sender.ID)
	if err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if !ended {
		t.Fatalf("sender leave should end the session")
	}

	got, err := r.GetByCode(ctx, sess.RoomCode)
	if err != nil {
		t.Fatalf("GetByCode() after end error = %v (history lookup must survive)", err)
	}
	if got.Active {
		t.Fatalf("session should be inactive after sender leaves")
	}
	if got.EndedAt == nil {
		t.Fatalf("ended session should carry an ended_at timestamp")
	}
}

func TestReceiverLeaveKeepsSessionAlive(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()
	sess, _, err := r.Create(ctx, "Alice", "en")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, receiver, err := r.Join(ctx, sess.RoomCode, "Bob", "es")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	_, ended, err := r.Leave(ctx, receiver.ID)
	if err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if ended {
		t.Fatalf("receiver leave must not end the session")
	}

	got, err := r.GetByCode(ctx, sess.RoomCode)
	if err != nil {
		t.Fatalf("GetByCode() error = %v", err)
	}
	if !got.Active {
		t.Fatalf("session should remain active")
	}
}

func TestActiveReceivers(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()
	sess, _, err := r.Create(ctx, "Alice", "en")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, bob, _ := r.Join(ctx, sess.RoomCode, "Bob", "es")
	r.Join(ctx, sess.RoomCode, "Carla", "fr")
	r.Join(ctx, sess.RoomCode, "Dan", "es")

	receivers, err := r.ActiveReceivers(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ActiveReceivers() error = %v", err)
	}
	if len(receivers) != 3 {
		t.Fatalf("ActiveReceivers() = %d, want 3", len(receivers))
	}

	if _, _, err := r.Leave(ctx, bob.ID); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	receivers, err = r.ActiveReceivers(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ActiveReceivers() error = %v", err)
	}
	if len(receivers) != 2 {
		t.Fatalf("ActiveReceivers() after leave = %d, want 2", len(receivers))
	}
}

func TestParticipantCountIdempotent(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()
	sess, _, err := r.Create(ctx, "Alice", "en")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	r.Join(ctx, sess.RoomCode, "Bob", "es")

	first, err := r.ParticipantCount(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ParticipantCount() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := r.ParticipantCount(ctx, sess.ID)
		if err != nil {
			t.Fatalf("ParticipantCount() error = %v", err)
		}
		if again != first {
			t.Fatalf("ParticipantCount() changed between reads: %d then %d", first, again)
		}
	}
	if first != 2 {
		t.Fatalf("ParticipantCount() = %d, want 2 (sender + receiver)", first)
	}
}

func TestMessageLifecycleAndTranslationUniqueness(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()
	sess, sender, err := r.Create(ctx, "Alice", "en")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	msg, err := r.BeginMessage(ctx, sess, sender, "hello", []byte{1, 2})
	if err != nil {
		t.Fatalf("BeginMessage() error = %v", err)
	}
	if msg.Status != StatusProcessing {
		t.Fatalf("new message status = %q, want processing", msg.Status)
	}

	if _, err := r.SaveTranslation(ctx, msg.ID, "es", "hola", []byte{3}); err != nil {
		t.Fatalf("SaveTranslation() error = %v", err)
	}
	// Second save for the same pair is a silent no-op.
	if _, err := r.SaveTranslation(ctx, msg.ID, "es", "HOLA OTRA VEZ", nil); err != nil {
		t.Fatalf("duplicate SaveTranslation() error = %v", err)
	}
	got, err := r.Translation(ctx, msg.ID, "es")
	if err != nil {
		t.Fatalf("Translation() error = %v", err)
	}
	if got.Text != "hola" {
		t.Fatalf("translation text = %q, want original %q", got.Text, "hola")
	}

	if err := r.CompleteMessage(ctx, msg.ID); err != nil {
		t.Fatalf("CompleteMessage() error = %v", err)
	}

	msgs, translations, err := r.History(ctx, sess.ID, "es")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(msgs) != 1 || len(translations) != 1 {
		t.Fatalf("History() = %d msgs / %d translations, want 1/1", len(msgs), len(translations))
	}
	if translations[0] == nil || translations[0].Text != "hola" {
		t.Fatalf("history translation = %+v, want hola", translations[0])
	}

	// History in a language never translated yields nil translation slots.
	_, missing, err := r.History(ctx, sess.ID, "de")
	if err != nil {
		t.Fatalf("History(de) error = %v", err)
	}
	if missing[0] != nil {
		t.Fatalf("History(de) translation = %+v, want nil", missing[0])
	}
}

func TestFailedMessagesExcludedFromHistory(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()
	sess, sender, _ := r.Create(ctx, "Alice", "en")

	msg, _ := r.BeginMessage(ctx, sess, sender, "oops", nil)
	if err := r.FailMessage(ctx, msg.ID, "synthesis failed"); err != nil {
		t.Fatalf("FailMessage() error = %v", err)
	}

	msgs, _, err := r.History(ctx, sess.ID, "es")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("failed message leaked into history: %d msgs", len(msgs))
	}
}
