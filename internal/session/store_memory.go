package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a process-local store for local/dev use and tests.
type InMemoryStore struct {
	mu           sync.RWMutex
	sessions     map[string]*Session // by ID
	byCode       map[string]string   // room code -> session ID
	participants map[string]*Participant
	messages     map[string]*Message
	translations map[string]map[string]*Translation // message ID -> target language
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:     make(map[string]*Session),
		byCode:       make(map[string]string),
		participants: make(map[string]*Participant),
		messages:     make(map[string]*Message),
		translations: make(map[string]map[string]*Translation),
	}
}

func (s *InMemoryStore) CreateSession(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if _, taken := s.byCode[sess.RoomCode]; taken {
		return errDuplicateCode
	}
	cp := *sess
	s.sessions[cp.ID] = &cp
	s.byCode[cp.RoomCode] = cp.ID
	return nil
}

func (s *InMemoryStore) GetSessionByCode(_ context.Context, roomCode string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[roomCode]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.sessions[id]
	return &cp, nil
}

func (s *InMemoryStore) EndSession(_ context.Context, sessionID string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	sess.Active = false
	sess.EndedAt = &endedAt
	return nil
}

func (s *InMemoryStore) ListActiveSessions(_ context.Context, limit int) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0)
	for _, sess := range s.sessions {
		if sess.Active {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) CreateParticipant(_ context.Context, p *Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	cp := *p
	s.participants[cp.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetParticipant(_ context.Context, id string) (*Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemoryStore) SetParticipantConnection(_ context.Context, id, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return ErrNotFound
	}
	p.ConnectionID = connectionID
	return nil
}

func (s *InMemoryStore) MarkParticipantLeft(_ context.Context, id string, leftAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return ErrNotFound
	}
	p.Active = false
	p.LeftAt = &leftAt
	p.ConnectionID = ""
	return nil
}

func (s *InMemoryStore) ActiveReceivers(_ context.Context, sessionID string) ([]*Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Participant, 0)
	for _, p := range s.participants {
		if p.SessionID == sessionID && p.Role == RoleReceiver && p.Active {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *InMemoryStore) CountParticipants(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, p := range s.participants {
		if p.SessionID == sessionID && p.Active {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) CreateMessage(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	cp := *m
	s.messages[cp.ID] = &cp
	return nil
}

func (s *InMemoryStore) CompleteMessage(_ context.Context, messageID string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	m.Status = StatusCompleted
	m.CompletedAt = &completedAt
	return nil
}

func (s *InMemoryStore) FailMessage(_ context.Context, messageID, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	m.Status = StatusFailed
	m.ErrorDetail = detail
	return nil
}

func (s *InMemoryStore) ListCompletedMessages(_ context.Context, sessionID string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Message, 0)
	for _, m := range s.messages {
		if m.SessionID == sessionID && m.Status == StatusCompleted {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) ListMessages(_ context.Context, sessionID string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Message, 0)
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) SaveTranslation(_ context.Context, t *Translation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byLang := s.translations[t.MessageID]
	if byLang == nil {
		byLang = make(map[string]*Translation)
		s.translations[t.MessageID] = byLang
	}
	if _, exists := byLang[t.TargetLanguage]; exists {
		return nil
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	cp := *t
	byLang[cp.TargetLanguage] = &cp
	return nil
}

func (s *InMemoryStore) GetTranslation(_ context.Context, messageID, targetLanguage string) (*Translation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.translations[messageID][targetLanguage]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *InMemoryStore) Close() error { return nil }
