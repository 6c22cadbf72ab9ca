package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voxlate/voxlate/internal/session"
)

type createSessionRequest struct {
	SenderName     string `json:"sender_name"`
	SourceLanguage string `json:"source_language"`
}

type joinSessionRequest struct {
	RoomCode       string `json:"room_code"`
	Name           string `json:"name"`
	TargetLanguage string `json:"target_language"`
}

type sessionResponse struct {
	SessionID      string `json:"session_id"`
	RoomCode       string `json:"room_code"`
	SenderName     string `json:"sender_name"`
	SourceLanguage string `json:"source_language"`
	Active         bool   `json:"active"`
	CreatedAt      string `json:"created_at"`
	ParticipantID  string `json:"participant_id,omitempty"`
	Role           string `json:"role,omitempty"`
	TargetLanguage string `json:"target_language,omitempty"`
	Participants   int    `json:"participants,omitempty"`
}

func sessionToResponse(sess *session.Session, p *session.Participant) sessionResponse {
	resp := sessionResponse{
		SessionID:      sess.ID,
		RoomCode:       sess.RoomCode,
		SenderName:     sess.SenderName,
		SourceLanguage: sess.SourceLanguage,
		Active:         sess.Active,
		CreatedAt:      sess.CreatedAt.Format(time.RFC3339),
	}
	if p != nil {
		resp.ParticipantID = p.ID
		resp.Role = string(p.Role)
		resp.TargetLanguage = p.TargetLanguage
	}
	return resp
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SourceLanguage) == "" {
		req.SourceLanguage = s.cfg.DefaultLanguage
	}

	sess, sender, err := s.registry.Create(r.Context(), req.SenderName, req.SourceLanguage)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	s.metrics.ActiveSessions.Inc()
	s.metrics.SessionEvents.WithLabelValues("created").Inc()
	respondJSON(w, http.StatusCreated, sessionToResponse(sess, sender))
}

func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	var req joinSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.RoomCode) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "room_code is required")
		return
	}
	if strings.TrimSpace(req.TargetLanguage) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "target_language is required")
		return
	}

	sess, p, err := s.registry.Join(r.Context(), req.RoomCode, req.Name, req.TargetLanguage)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	s.metrics.SessionEvents.WithLabelValues("joined").Inc()
	respondJSON(w, http.StatusOK, sessionToResponse(sess, p))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.GetByCode(r.Context(), chi.URLParam(r, "room_code"))
	if err != nil {
		respondSessionError(w, err)
		return
	}
	resp := sessionToResponse(sess, nil)
	if n, err := s.registry.ParticipantCount(r.Context(), sess.ID); err == nil {
		resp.Participants = n
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLeaveSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParticipantID string `json:"participant_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.ParticipantID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "participant_id is required")
		return
	}

	if _, _, err := s.registry.Participant(r.Context(), req.ParticipantID, chi.URLParam(r, "room_code")); err != nil {
		respondSessionError(w, err)
		return
	}
	p, ended, err := s.registry.Leave(r.Context(), req.ParticipantID)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	if ended {
		s.metrics.ActiveSessions.Dec()
		s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"participant_id": p.ID,
		"session_ended":  ended,
	})
}

func (s *Server) handleListActiveSessions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	sessions, err := s.registry.ListActive(r.Context(), limit)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionToResponse(sess, nil))
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.GetByCode(r.Context(), chi.URLParam(r, "room_code"))
	if err != nil {
		respondSessionError(w, err)
		return
	}
	lang := strings.TrimSpace(r.URL.Query().Get("target_language"))
	if lang == "" {
		lang = sess.SourceLanguage
	}

	msgs, translations, err := s.registry.History(r.Context(), sess.ID, lang)
	if err != nil {
		respondSessionError(w, err)
		return
	}

	type messageResponse struct {
		MessageID     string `json:"message_id"`
		SenderName    string `json:"sender_name"`
		Transcription string `json:"transcription"`
		Translation   string `json:"translation,omitempty"`
		CreatedAt     string `json:"created_at"`
	}
	out := make([]messageResponse, 0, len(msgs))
	for i, m := range msgs {
		item := messageResponse{
			MessageID:     m.ID,
			SenderName:    sess.SenderName,
			Transcription: m.Transcription,
			CreatedAt:     m.CreatedAt.Format(time.RFC3339),
		}
		if t := translations[i]; t != nil {
			item.Translation = t.Text
		}
		out = append(out, item)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"room_code":       sess.RoomCode,
		"target_language": lang,
		"messages":        out,
	})
}
