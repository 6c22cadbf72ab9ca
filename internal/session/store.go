package session

import (
	"context"
	"strings"
	"time"
)

// Store persists sessions, participants, messages and translations.
// Implementations serialize writes per record; reads need no extra locking.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSessionByCode(ctx context.Context, roomCode string) (*Session, error)
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) error
	ListActiveSessions(ctx context.Context, limit int) ([]*Session, error)

	CreateParticipant(ctx context.Context, p *Participant) error
	GetParticipant(ctx context.Context, id string) (*Participant, error)
	SetParticipantConnection(ctx context.Context, id, connectionID string) error
	MarkParticipantLeft(ctx context.Context, id string, leftAt time.Time) error
	ActiveReceivers(ctx context.Context, sessionID string) ([]*Participant, error)
	CountParticipants(ctx context.Context, sessionID string) (int, error)

	CreateMessage(ctx context.Context, m *Message) error
	CompleteMessage(ctx context.Context, messageID string, completedAt time.Time) error
	FailMessage(ctx context.Context, messageID, detail string) error
	ListCompletedMessages(ctx context.Context, sessionID string) ([]*Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]*Message, error)

	// SaveTranslation is a no-op when a translation for the same
	// (message, target language) pair already exists.
	SaveTranslation(ctx context.Context, t *Translation) error
	GetTranslation(ctx context.Context, messageID, targetLanguage string) (*Translation, error)

	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
