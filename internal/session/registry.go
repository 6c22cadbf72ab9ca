package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var errDuplicateCode = errors.New("room code already in use")

const (
	roomCodeLength   = 6
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeGenRetries   = 10
)

// Registry coordinates session lifecycle: rooms, membership and message
// persistence. It owns room code generation; everything else is delegated
// to the Store.
type Registry struct {
	store Store
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Create starts a new session and its sender participant. The sender's
// target language equals the session source language.
func (r *Registry) Create(ctx context.Context, senderName, sourceLanguage string) (*Session, *Participant, error) {
	senderName = strings.TrimSpace(senderName)
	if senderName == "" {
		senderName = "Anonymous"
	}
	sourceLanguage = strings.TrimSpace(sourceLanguage)
	if sourceLanguage == "" {
		sourceLanguage = "en"
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:             uuid.NewString(),
		SenderName:     senderName,
		SourceLanguage: sourceLanguage,
		Active:         true,
		CreatedAt:      now,
	}

	var err error
	for attempt := 0; attempt < codeGenRetries; attempt++ {
		sess.RoomCode, err = generateRoomCode()
		if err != nil {
			return nil, nil, err
		}
		err = r.store.CreateSession(ctx, sess)
		if err == nil {
			break
		}
		if !errors.Is(err, errDuplicateCode) {
			return nil, nil, err
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("allocate room code: %w", err)
	}

	sender := &Participant{
		ID:             uuid.NewString(),
		SessionID:      sess.ID,
		Name:           senderName,
		Role:           RoleSender,
		TargetLanguage: sourceLanguage,
		Active:         true,
		JoinedAt:       now,
	}
	if err := r.store.CreateParticipant(ctx, sender); err != nil {
		return nil, nil, err
	}
	return sess, sender, nil
}

// Join adds a receiver to an existing session. Unknown room codes yield
// ErrNotFound; ended sessions yield ErrSessionEnded.
func (r *Registry) Join(ctx context.Context, roomCode, name, targetLanguage string) (*Session, *Participant, error) {
	sess, err := r.store.GetSessionByCode(ctx, normalizeCode(roomCode))
	if err != nil {
		return nil, nil, err
	}
	if !sess.Active {
		return nil, nil, ErrSessionEnded
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = "Anonymous"
	}

	p := &Participant{
		ID:             uuid.NewString(),
		SessionID:      sess.ID,
		Name:           name,
		Role:           RoleReceiver,
		TargetLanguage: targetLanguage,
		Active:         true,
		JoinedAt:       time.Now().UTC(),
	}
	if err := r.store.CreateParticipant(ctx, p); err != nil {
		return nil, nil, err
	}
	return sess, p, nil
}

// Leave marks the participant inactive. When the sender leaves the whole
// session ends: no new joins and no further broadcasts, though the room
// stays retrievable by code for history.
func (r *Registry) Leave(ctx context.Context, participantID string) (*Participant, bool, error) {
	p, err := r.store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	if err := r.store.MarkParticipantLeft(ctx, participantID, now); err != nil {
		return nil, false, err
	}
	p.Active = false
	p.LeftAt = &now

	if p.Role == RoleSender {
		if err := r.store.EndSession(ctx, p.SessionID, now); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
		return p, true, nil
	}
	return p, false, nil
}

// GetByCode looks a session up by room code, ended or not.
func (r *Registry) GetByCode(ctx context.Context, roomCode string) (*Session, error) {
	return r.store.GetSessionByCode(ctx, normalizeCode(roomCode))
}

// Participant resolves a participant by ID and checks it belongs to the
// room identified by roomCode.
func (r *Registry) Participant(ctx context.Context, participantID, roomCode string) (*Session, *Participant, error) {
	p, err := r.store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, nil, err
	}
	sess, err := r.store.GetSessionByCode(ctx, normalizeCode(roomCode))
	if err != nil {
		return nil, nil, err
	}
	if p.SessionID != sess.ID || !p.Active {
		return nil, nil, ErrNotFound
	}
	return sess, p, nil
}

func (r *Registry) ActiveReceivers(ctx context.Context, sessionID string) ([]*Participant, error) {
	return r.store.ActiveReceivers(ctx, sessionID)
}

func (r *Registry) ParticipantCount(ctx context.Context, sessionID string) (int, error) {
	return r.store.CountParticipants(ctx, sessionID)
}

func (r *Registry) ListActive(ctx context.Context, limit int) ([]*Session, error) {
	return r.store.ListActiveSessions(ctx, limit)
}

// BeginMessage records a new utterance in processing state.
func (r *Registry) BeginMessage(ctx context.Context, sess *Session, sender *Participant, transcription string, audio []byte) (*Message, error) {
	m := &Message{
		ID:            uuid.NewString(),
		SessionID:     sess.ID,
		SenderID:      sender.ID,
		Transcription: transcription,
		Status:        StatusProcessing,
		OriginalAudio: audio,
		CreatedAt:     time.Now().UTC(),
	}
	if err := r.store.CreateMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *Registry) CompleteMessage(ctx context.Context, messageID string) error {
	return r.store.CompleteMessage(ctx, messageID, time.Now().UTC())
}

func (r *Registry) FailMessage(ctx context.Context, messageID, detail string) error {
	return r.store.FailMessage(ctx, messageID, detail)
}

func (r *Registry) SaveTranslation(ctx context.Context, messageID, targetLanguage, text string, audio []byte) (*Translation, error) {
	t := &Translation{
		ID:             uuid.NewString(),
		MessageID:      messageID,
		TargetLanguage: targetLanguage,
		Text:           text,
		Audio:          audio,
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.store.SaveTranslation(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// History returns completed messages paired with the translation matching
// targetLanguage. Messages without a translation in that language are
// returned with a nil translation.
func (r *Registry) History(ctx context.Context, sessionID, targetLanguage string) ([]*Message, []*Translation, error) {
	msgs, err := r.store.ListCompletedMessages(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	translations := make([]*Translation, len(msgs))
	for i, m := range msgs {
		t, err := r.store.GetTranslation(ctx, m.ID, targetLanguage)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, nil, err
		}
		translations[i] = t
	}
	return msgs, translations, nil
}

// Messages returns every message of the session regardless of status,
// including failed ones with their error detail.
func (r *Registry) Messages(ctx context.Context, sessionID string) ([]*Message, error) {
	return r.store.ListMessages(ctx, sessionID)
}

func (r *Registry) SetConnection(ctx context.Context, participantID, connectionID string) error {
	return r.store.SetParticipantConnection(ctx, participantID, connectionID)
}

func (r *Registry) Translation(ctx context.Context, messageID, targetLanguage string) (*Translation, error) {
	return r.store.GetTranslation(ctx, messageID, targetLanguage)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func generateRoomCode() (string, error) {
	buf := make([]byte, roomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate room code: %w", err)
	}
	out := make([]byte, roomCodeLength)
	for i, b := range buf {
		out[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return string(out), nil
}
