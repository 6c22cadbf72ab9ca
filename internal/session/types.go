package session

import (
	"errors"
	"time"
)

type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

type MessageStatus string

const (
	StatusProcessing MessageStatus = "processing"
	StatusCompleted  MessageStatus = "completed"
	StatusFailed     MessageStatus = "failed"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrSessionEnded = errors.New("session has ended")
)

// Session is a translation room: one sender broadcasting to any number of
// receivers. The room code is unique and immutable after creation.
type Session struct {
	ID             string     `json:"id"`
	RoomCode       string     `json:"room_code"`
	SenderName     string     `json:"sender_name"`
	SourceLanguage string     `json:"source_language"`
	Active         bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// Participant is a connection identity within a session. The sender role is
// unique per session; receivers carry the target language they listen in.
type Participant struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	Name           string     `json:"name"`
	Role           Role       `json:"role"`
	TargetLanguage string     `json:"target_language"`
	Active         bool       `json:"is_active"`
	JoinedAt       time.Time  `json:"joined_at"`
	LeftAt         *time.Time `json:"left_at,omitempty"`

	// ConnectionID references the live websocket connection; empty while
	// the participant is disconnected.
	ConnectionID string `json:"-"`
}

// Message is one processed utterance from the sender.
type Message struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"session_id"`
	SenderID      string        `json:"sender_id,omitempty"`
	Transcription string        `json:"transcription"`
	Status        MessageStatus `json:"status"`
	ErrorDetail   string        `json:"error_detail,omitempty"`
	OriginalAudio []byte        `json:"-"`
	CreatedAt     time.Time     `json:"created_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// Translation is one target-language rendering of a message. At most one
// exists per (message, target language) pair.
type Translation struct {
	ID             string    `json:"id"`
	MessageID      string    `json:"message_id"`
	TargetLanguage string    `json:"target_language"`
	Text           string    `json:"text"`
	Audio          []byte    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}
