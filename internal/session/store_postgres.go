package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists session state in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			room_code TEXT NOT NULL UNIQUE,
			sender_name TEXT NOT NULL,
			source_language TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			ended_at TIMESTAMPTZ
		);`,
		`CREATE TABLE IF NOT EXISTS participants (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			role TEXT NOT NULL,
			target_language TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			left_at TIMESTAMPTZ,
			connection_id TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			sender_id UUID REFERENCES participants(id) ON DELETE SET NULL,
			transcription TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'processing',
			error_detail TEXT NOT NULL DEFAULT '',
			original_audio BYTEA,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ
		);`,
		`CREATE TABLE IF NOT EXISTS translations (
			id UUID PRIMARY KEY,
			message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			target_language TEXT NOT NULL,
			translated_text TEXT NOT NULL,
			audio BYTEA,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (message_id, target_language)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_code_active ON sessions (room_code, is_active);`,
		`CREATE INDEX IF NOT EXISTS idx_participants_session_active ON participants (session_id, is_active);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages (session_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, room_code, sender_name, source_language, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, sess.RoomCode, sess.SenderName, sess.SourceLanguage, sess.Active, sess.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation on room_code
		return errDuplicateCode
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSessionByCode(ctx context.Context, roomCode string) (*Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, room_code, sender_name, source_language, is_active, created_at, ended_at
		 FROM sessions WHERE room_code=$1`, roomCode,
	).Scan(&sess.ID, &sess.RoomCode, &sess.SenderName, &sess.SourceLanguage, &sess.Active, &sess.CreatedAt, &sess.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

func (s *PostgresStore) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET is_active=FALSE, ended_at=$2 WHERE id=$1`, sessionID, endedAt)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListActiveSessions(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, room_code, sender_name, source_language, is_active, created_at, ended_at
		 FROM sessions WHERE is_active ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()

	out := make([]*Session, 0, limit)
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.RoomCode, &sess.SenderName, &sess.SourceLanguage, &sess.Active, &sess.CreatedAt, &sess.EndedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateParticipant(ctx context.Context, p *Participant) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO participants (id, session_id, name, role, target_language, is_active, joined_at, connection_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.SessionID, p.Name, p.Role, p.TargetLanguage, p.Active, p.JoinedAt, p.ConnectionID,
	)
	if err != nil {
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetParticipant(ctx context.Context, id string) (*Participant, error) {
	var p Participant
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, name, role, target_language, is_active, joined_at, left_at, connection_id
		 FROM participants WHERE id=$1`, id,
	).Scan(&p.ID, &p.SessionID, &p.Name, &p.Role, &p.TargetLanguage, &p.Active, &p.JoinedAt, &p.LeftAt, &p.ConnectionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) SetParticipantConnection(ctx context.Context, id, connectionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE participants SET connection_id=$2 WHERE id=$1`, id, connectionID)
	if err != nil {
		return fmt.Errorf("set participant connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkParticipantLeft(ctx context.Context, id string, leftAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE participants SET is_active=FALSE, left_at=$2, connection_id='' WHERE id=$1`, id, leftAt)
	if err != nil {
		return fmt.Errorf("mark participant left: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ActiveReceivers(ctx context.Context, sessionID string) ([]*Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, name, role, target_language, is_active, joined_at, left_at, connection_id
		 FROM participants WHERE session_id=$1 AND role='receiver' AND is_active ORDER BY joined_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query receivers: %w", err)
	}
	defer rows.Close()

	out := make([]*Participant, 0)
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Name, &p.Role, &p.TargetLanguage, &p.Active, &p.JoinedAt, &p.LeftAt, &p.ConnectionID); err != nil {
			return nil, fmt.Errorf("scan participant row: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountParticipants(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM participants WHERE session_id=$1 AND is_active`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, m *Message) error {
	var senderID any
	if m.SenderID != "" {
		senderID = m.SenderID
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, session_id, sender_id, transcription, status, original_audio, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.SessionID, senderID, m.Transcription, m.Status, m.OriginalAudio, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *PostgresStore) CompleteMessage(ctx context.Context, messageID string, completedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET status='completed', completed_at=$2 WHERE id=$1`, messageID, completedAt)
	if err != nil {
		return fmt.Errorf("complete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FailMessage(ctx context.Context, messageID, detail string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET status='failed', error_detail=$2 WHERE id=$1`, messageID, detail)
	if err != nil {
		return fmt.Errorf("fail message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListCompletedMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.session_id, COALESCE(m.sender_id::TEXT, ''), m.transcription, m.status, m.error_detail, m.created_at, m.completed_at
		 FROM messages m WHERE m.session_id=$1 AND m.status='completed' ORDER BY m.created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]*Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.Transcription, &m.Status, &m.ErrorDetail, &m.CreatedAt, &m.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.session_id, COALESCE(m.sender_id::TEXT, ''), m.transcription, m.status, m.error_detail, m.created_at, m.completed_at
		 FROM messages m WHERE m.session_id=$1 ORDER BY m.created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]*Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.Transcription, &m.Status, &m.ErrorDetail, &m.CreatedAt, &m.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveTranslation(ctx context.Context, t *Translation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO translations (id, message_id, target_language, translated_text, audio, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (message_id, target_language) DO NOTHING`,
		t.ID, t.MessageID, t.TargetLanguage, t.Text, t.Audio, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save translation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTranslation(ctx context.Context, messageID, targetLanguage string) (*Translation, error) {
	var t Translation
	err := s.pool.QueryRow(ctx,
		`SELECT id, message_id, target_language, translated_text, audio, created_at
		 FROM translations WHERE message_id=$1 AND target_language=$2`, messageID, targetLanguage,
	).Scan(&t.ID, &t.MessageID, &t.TargetLanguage, &t.Text, &t.Audio, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get translation: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
