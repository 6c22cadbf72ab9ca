package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/voxlate/voxlate/internal/admission"
	"github.com/voxlate/voxlate/internal/config"
	"github.com/voxlate/voxlate/internal/jobs"
	"github.com/voxlate/voxlate/internal/observability"
	"github.com/voxlate/voxlate/internal/protocol"
	"github.com/voxlate/voxlate/internal/realtime"
	"github.com/voxlate/voxlate/internal/session"
)

type Server struct {
	cfg        config.Config
	registry   *session.Registry
	translator *realtime.Translator
	rooms      *realtime.Rooms
	jobService *jobs.Service
	limiter    admission.Limiter
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader
}

func New(cfg config.Config, registry *session.Registry, translator *realtime.Translator, rooms *realtime.Rooms, jobService *jobs.Service, limiter admission.Limiter, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:        cfg,
		registry:   registry,
		translator: translator,
		rooms:      rooms,
		jobService: jobService,
		limiter:    limiter,
		metrics:    metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other sites cannot drive a visitor's mic.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/api/sessions", s.handleCreateSession)
	r.Post("/api/sessions/join", s.handleJoinSession)
	r.Get("/api/sessions/active", s.handleListActiveSessions)
	r.Get("/api/sessions/{room_code}", s.handleGetSession)
	r.Post("/api/sessions/{room_code}/leave", s.handleLeaveSession)
	r.Get("/api/sessions/{room_code}/messages", s.handleSessionMessages)

	r.Post("/api/jobs", s.handleCreateJob)
	r.Get("/api/jobs/{id}", s.handleGetJob)
	r.Get("/api/jobs/{id}/audio", s.handleJobAudio)

	r.Get("/ws/translate", s.handleTranslateWS)
	r.Get("/ws/session/{room_code}", s.handleRoomWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondSessionError maps store errors onto the API error contract.
func respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", "session or participant not found")
	case errors.Is(err, session.ErrSessionEnded):
		respondError(w, http.StatusBadRequest, "session_ended", "this session has ended")
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.Configure:
		return m.Type, true
	case protocol.Ping:
		return m.Type, true
	case protocol.GetHistory:
		return m.Type, true
	case protocol.AudioFile:
		return m.Type, true
	case protocol.ConnectionEstablished:
		return m.Type, true
	case protocol.Configured:
		return m.Type, true
	case protocol.Pong:
		return m.Type, true
	case protocol.Processing:
		return m.Type, true
	case protocol.ProcessingStarted:
		return m.Type, true
	case protocol.Transcription:
		return m.Type, true
	case protocol.Translation:
		return m.Type, true
	case protocol.AudioComplete:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	case protocol.Info:
		return m.Type, true
	case protocol.NewMessage:
		return m.Type, true
	case protocol.HistoryMessage:
		return m.Type, true
	case protocol.ParticipantJoined:
		return m.Type, true
	case protocol.ParticipantLeft:
		return m.Type, true
	default:
		return "", false
	}
}
