package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

// Client -> server control messages.
const (
	TypeConfigure  MessageType = "configure"
	TypePing       MessageType = "ping"
	TypeGetHistory MessageType = "get_history"
	TypeAudioFile  MessageType = "audio_file"
)

// Server -> client events.
const (
	TypeConnectionEstablished MessageType = "connection_established"
	TypeConfigured            MessageType = "configured"
	TypePong                  MessageType = "pong"
	TypeProcessing            MessageType = "processing"
	TypeProcessingStarted     MessageType = "processing_started"
	TypeTranscription         MessageType = "transcription"
	TypeTranslation           MessageType = "translation"
	TypeAudioComplete         MessageType = "audio_complete"
	TypeError                 MessageType = "error"
	TypeInfo                  MessageType = "info"
	TypeNewMessage            MessageType = "new_message"
	TypeHistoryMessage        MessageType = "history_message"
	TypeParticipantJoined     MessageType = "participant_joined"
	TypeParticipantLeft       MessageType = "participant_left"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Configure sets the language pair for a single-receiver translate connection.
type Configure struct {
	Type           MessageType `json:"type"`
	SourceLanguage string      `json:"source_language"`
	TargetLanguage string      `json:"target_language"`
}

type Ping struct {
	Type MessageType `json:"type"`
}

type GetHistory struct {
	Type MessageType `json:"type"`
}

// AudioFile carries a complete base64-encoded recording from a session sender.
type AudioFile struct {
	Type      MessageType `json:"type"`
	AudioData string      `json:"audio_data"`
}

type ConnectionEstablished struct {
	Type          MessageType `json:"type"`
	ConnectionID  string      `json:"connection_id"`
	RoomCode      string      `json:"room_code,omitempty"`
	ParticipantID string      `json:"participant_id,omitempty"`
	Role          string      `json:"role,omitempty"`
	Message       string      `json:"message"`
}

type Configured struct {
	Type           MessageType `json:"type"`
	SourceLanguage string      `json:"source_language"`
	TargetLanguage string      `json:"target_language"`
	Message        string      `json:"message"`
}

type Pong struct {
	Type MessageType `json:"type"`
}

type Processing struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type ProcessingStarted struct {
	Type       MessageType `json:"type"`
	SenderName string      `json:"sender_name"`
}

type Transcription struct {
	Type     MessageType `json:"type"`
	Text     string      `json:"text"`
	Language string      `json:"language"`
}

type Translation struct {
	Type     MessageType `json:"type"`
	Text     string      `json:"text"`
	Language string      `json:"language"`
}

type AudioComplete struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type ErrorEvent struct {
	Type    MessageType `json:"type"`
	Error   string      `json:"error"`
	Message string      `json:"message,omitempty"`
}

type Info struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// NewMessage delivers one translated utterance to a receiver, already
// filtered to the receiver's own target language.
type NewMessage struct {
	Type          MessageType `json:"type"`
	MessageID     string      `json:"message_id"`
	SenderName    string      `json:"sender_name"`
	Transcription string      `json:"transcription"`
	Translation   string      `json:"translation"`
	Audio         string      `json:"audio"`
}

type HistoryMessage struct {
	Type          MessageType `json:"type"`
	MessageID     string      `json:"message_id"`
	SenderName    string      `json:"sender_name"`
	Transcription string      `json:"transcription"`
	Translation   string      `json:"translation"`
	Audio         string      `json:"audio,omitempty"`
	CreatedAt     string      `json:"created_at"`
}

type ParticipantJoined struct {
	Type            MessageType `json:"type"`
	ParticipantName string      `json:"participant_name"`
	Role            string      `json:"role"`
}

type ParticipantLeft struct {
	Type            MessageType `json:"type"`
	ParticipantName string      `json:"participant_name"`
}

// ParseClientMessage decodes and validates a text frame from a client.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeConfigure:
		var msg Configure
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.SourceLanguage) == "" || strings.TrimSpace(msg.TargetLanguage) == "" {
			return nil, errors.New("configure requires source_language and target_language")
		}
		return msg, nil
	case TypePing:
		return Ping{Type: TypePing}, nil
	case TypeGetHistory:
		return GetHistory{Type: TypeGetHistory}, nil
	case TypeAudioFile:
		var msg AudioFile
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.AudioData) == "" {
			return nil, errors.New("audio_file requires audio_data")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
