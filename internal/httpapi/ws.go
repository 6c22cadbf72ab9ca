package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxlate/voxlate/internal/admission"
	"github.com/voxlate/voxlate/internal/protocol"
	"github.com/voxlate/voxlate/internal/realtime"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsReadLimit    = 2 << 20
)

// runConnection is the connection loop contract both realtime orchestrators
// satisfy. The orchestrator owns outbound and closes it on return.
type runConnection func(ctx context.Context, connID string, inbound <-chan any, outbound chan<- any) error

func (s *Server) handleTranslateWS(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, func(ctx context.Context, connID string, inbound <-chan any, outbound chan<- any) error {
		return s.translator.RunConnection(ctx, connID, inbound, outbound)
	})
}

func (s *Server) handleRoomWS(w http.ResponseWriter, r *http.Request) {
	roomCode := chi.URLParam(r, "room_code")
	participantID := strings.TrimSpace(r.URL.Query().Get("participant_id"))
	if participantID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter participant_id is required")
		return
	}

	sess, p, err := s.registry.Participant(r.Context(), participantID, roomCode)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	if !sess.Active {
		respondError(w, http.StatusBadRequest, "session_ended", "this session has ended")
		return
	}

	s.serveWS(w, r, func(ctx context.Context, connID string, inbound <-chan any, outbound chan<- any) error {
		return s.rooms.RunConnection(ctx, sess, p, connID, inbound, outbound)
	})
}

// serveWS upgrades the request and bridges websocket frames to the
// orchestrator's inbound/outbound channels: binary frames carry audio, text
// frames carry protocol JSON. Admission is checked before any work starts;
// over-limit clients are told to go away with a policy violation close.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, run runConnection) {
	addr := admission.ClientIP(r)
	acquireErr := s.limiter.Acquire(r.Context(), addr)
	if acquireErr != nil && !errors.Is(acquireErr, admission.ErrLimitExceeded) {
		respondError(w, http.StatusInternalServerError, "internal", acquireErr.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if acquireErr == nil {
			s.limiter.Release(context.Background(), addr)
		}
		return
	}
	defer conn.Close()

	if acquireErr != nil {
		s.metrics.AdmissionRejections.Inc()
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections from this address")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
		return
	}
	defer s.limiter.Release(context.Background(), addr)

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	connID := uuid.NewString()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		// Unblock the read loop if the orchestrator finishes first, e.g.
		// when the sender ends the session.
		defer cancel()
		_ = run(ctx, connID, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range outbound {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			switch m := msg.(type) {
			case realtime.BinaryFrame:
				if err := conn.WriteMessage(websocket.BinaryMessage, m.Data); err != nil {
					cancel()
					return
				}
				s.metrics.WSMessages.WithLabelValues("outbound", "binary_audio").Inc()
			default:
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var parsed any
		switch msgType {
		case websocket.BinaryMessage:
			chunk := make([]byte, len(data))
			copy(chunk, data)
			parsed = realtime.AudioChunk{Data: chunk}
			s.metrics.WSMessages.WithLabelValues("inbound", "binary_audio").Inc()
		case websocket.TextMessage:
			var perr error
			parsed, perr = protocol.ParseClientMessage(data)
			if perr != nil {
				errEvent := protocol.ErrorEvent{
					Type:    protocol.TypeError,
					Error:   "invalid_client_message",
					Message: perr.Error(),
				}
				select {
				case outbound <- errEvent:
				default:
					// Keep websocket writes single-threaded; drop if the
					// outbound queue is saturated.
				}
				continue
			}
			if t, ok := messageTypeOf(parsed); ok {
				s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
			}
		default:
			continue
		}

		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	// Close inbound first and let the orchestrator wind down on its own: an
	// utterance already in the pipeline finishes and its result is discarded,
	// rather than being cancelled mid-flight.
	close(inbound)
	<-runDone
	cancel()
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}
