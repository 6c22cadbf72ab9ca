package realtime

import (
	"context"
	"encoding/base64"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxlate/voxlate/internal/audiobuf"
	"github.com/voxlate/voxlate/internal/broadcast"
	"github.com/voxlate/voxlate/internal/protocol"
	"github.com/voxlate/voxlate/internal/session"
	"github.com/voxlate/voxlate/internal/speech"
	"github.com/voxlate/voxlate/internal/vad"
)

// Rooms runs multi-party session connections. The sender streams audio;
// every utterance is translated once per distinct receiver language and
// fanned out through the hub. Receivers get history on connect and live
// messages filtered to their own target language.
type Rooms struct {
	registry *session.Registry
	hub      *broadcast.Hub
	pipeline *speech.Pipeline
	opts     TranslateOptions
}

func NewRooms(registry *session.Registry, hub *broadcast.Hub, pipeline *speech.Pipeline, opts TranslateOptions) *Rooms {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.MaxBufferDuration <= 0 {
		opts.MaxBufferDuration = 5 * time.Second
	}
	if opts.SilenceFrames <= 0 {
		opts.SilenceFrames = 10
	}
	return &Rooms{registry: registry, hub: hub, pipeline: pipeline, opts: opts}
}

// RunConnection drives one room participant connection until the client
// disconnects, ctx is cancelled, or the session ends. It owns outbound and
// closes it on return. Disconnecting marks the participant as left; when the
// sender disconnects the whole session ends.
func (rm *Rooms) RunConnection(ctx context.Context, sess *session.Session, p *session.Participant, connID string, inbound <-chan any, outbound chan<- any) error {
	var (
		processing atomic.Bool
		inflight   sync.WaitGroup
	)
	defer func() {
		inflight.Wait()
		close(outbound)
	}()

	send := func(msg any) bool {
		select {
		case outbound <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if err := rm.registry.SetConnection(ctx, p.ID, connID); err != nil {
		log.Printf("realtime: record connection for %s: %v", p.ID, err)
	}

	send(protocol.ConnectionEstablished{
		Type:          protocol.TypeConnectionEstablished,
		ConnectionID:  connID,
		RoomCode:      sess.RoomCode,
		ParticipantID: p.ID,
		Role:          string(p.Role),
		Message:       "joined room " + sess.RoomCode,
	})

	if p.Role == session.RoleReceiver {
		rm.replayHistory(ctx, sess, p, send)
	}

	// Publish before subscribing so a participant never sees its own join.
	rm.hub.Publish(sess.RoomCode, broadcast.MembershipEvent{
		Name:   p.Name,
		Role:   string(p.Role),
		Joined: true,
	})
	sub := rm.hub.Subscribe(sess.RoomCode)

	defer func() {
		rm.hub.Unsubscribe(sub)
		// Leave accounting must survive connection teardown.
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		left, ended, err := rm.registry.Leave(leaveCtx, p.ID)
		if err != nil {
			log.Printf("realtime: leave %s: %v", p.ID, err)
			return
		}
		rm.hub.Publish(sess.RoomCode, broadcast.MembershipEvent{
			Name: left.Name,
			Role: string(left.Role),
		})
		if ended {
			log.Printf("realtime: session %s ended, sender %s left", sess.RoomCode, left.Name)
		}
	}()

	var buffer *audiobuf.Buffer
	if p.Role == session.RoleSender {
		buffer = rm.newBuffer()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			switch m := msg.(type) {
			case protocol.Ping:
				send(protocol.Pong{Type: protocol.TypePong})

			case protocol.GetHistory:
				rm.replayHistory(ctx, sess, p, send)

			case AudioChunk:
				if p.Role != session.RoleSender {
					send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "not_sender", Message: "only the sender streams audio"})
					continue
				}
				if buffer == nil {
					continue
				}
				if processing.Load() {
					// One utterance at a time; drop rather than queue.
					continue
				}
				buffer.Append(m.Data)
				if !buffer.Complete() {
					continue
				}
				rm.startUtterance(ctx, sess, p, buffer.Drain(), &processing, &inflight, send)

			case protocol.AudioFile:
				if p.Role != session.RoleSender {
					send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "not_sender", Message: "only the sender streams audio"})
					continue
				}
				if processing.Load() {
					send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "busy", Message: "previous recording still processing"})
					continue
				}
				audioData, err := DecodeAudioPayload(m.AudioData)
				if err != nil {
					send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "invalid_audio", Message: "audio_data is not valid base64"})
					continue
				}
				rm.startUtterance(ctx, sess, p, audioData, &processing, &inflight, send)

			default:
				send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "unsupported_message"})
			}

		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if done := rm.handleRoomEvent(ev, p, send); done {
				return nil
			}
		}
	}
}

func (rm *Rooms) newBuffer() *audiobuf.Buffer {
	detector, err := vad.New(rm.opts.VADAggressiveness, rm.opts.SampleRate)
	if err != nil {
		log.Printf("realtime: voice detector unavailable: %v", err)
		detector = nil
	}
	return audiobuf.New(audiobuf.Options{
		SampleRate:    rm.opts.SampleRate,
		MaxDuration:   rm.opts.MaxBufferDuration,
		SilenceFrames: rm.opts.SilenceFrames,
		Detector:      detector,
	})
}

// handleRoomEvent translates one hub event into the participant's outbound
// protocol. Returns true when the connection should close.
func (rm *Rooms) handleRoomEvent(ev any, p *session.Participant, send func(any) bool) bool {
	switch e := ev.(type) {
	case broadcast.ProcessingEvent:
		if p.Role == session.RoleReceiver {
			send(protocol.ProcessingStarted{Type: protocol.TypeProcessingStarted, SenderName: e.SenderName})
		}

	case broadcast.MembershipEvent:
		if e.Joined {
			send(protocol.ParticipantJoined{
				Type:            protocol.TypeParticipantJoined,
				ParticipantName: e.Name,
				Role:            e.Role,
			})
			return false
		}
		send(protocol.ParticipantLeft{Type: protocol.TypeParticipantLeft, ParticipantName: e.Name})
		if e.Role == string(session.RoleSender) {
			send(protocol.Info{Type: protocol.TypeInfo, Message: "session ended by sender"})
			return true
		}

	case broadcast.UtteranceEvent:
		if p.Role != session.RoleReceiver {
			return false
		}
		rendering, ok := e.Translations[p.TargetLanguage]
		if !ok {
			// No rendering for this receiver's language. Skip silently
			// rather than surface an error for every utterance.
			return false
		}
		send(protocol.NewMessage{
			Type:          protocol.TypeNewMessage,
			MessageID:     e.MessageID,
			SenderName:    e.SenderName,
			Transcription: e.Transcription,
			Translation:   rendering.Text,
			Audio:         rendering.Audio,
		})
	}
	return false
}

func (rm *Rooms) startUtterance(ctx context.Context, sess *session.Session, sender *session.Participant, audioData []byte, processing *atomic.Bool, inflight *sync.WaitGroup, send func(any) bool) {
	processing.Store(true)
	send(protocol.Processing{Type: protocol.TypeProcessing, Message: "processing speech"})

	inflight.Add(1)
	go func() {
		defer inflight.Done()
		defer processing.Store(false)
		rm.processUtterance(ctx, sess, sender, audioData, send)
	}()
}

// processUtterance runs the pipeline for one utterance and fans the result
// out to the room. Translation and synthesis happen once per distinct
// receiver language; every receiver sharing a language gets the same
// rendering.
func (rm *Rooms) processUtterance(ctx context.Context, sess *session.Session, sender *session.Participant, audioData []byte, send func(any) bool) {
	receivers, err := rm.registry.ActiveReceivers(ctx, sess.ID)
	if err != nil {
		send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "processing_failed", Message: err.Error()})
		return
	}
	targets := make([]string, 0, len(receivers))
	for _, r := range receivers {
		targets = append(targets, r.TargetLanguage)
	}

	rm.hub.Publish(sess.RoomCode, broadcast.ProcessingEvent{SenderName: sender.Name})

	res, err := rm.pipeline.Transcribe(ctx, audioData, sess.SourceLanguage)
	if err != nil {
		log.Printf("realtime: room transcription failed for %s: %v", sess.RoomCode, err)
		send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "processing_failed", Message: err.Error()})
		return
	}
	if res.NoSpeech() {
		send(protocol.Info{Type: protocol.TypeInfo, Message: "no speech detected"})
		return
	}

	// The message is recorded as soon as the transcription exists so a
	// later translation or synthesis failure still leaves a failed row
	// with its cause instead of vanishing without trace.
	msg, err := rm.registry.BeginMessage(ctx, sess, sender, res.Transcription, audioData)
	if err != nil {
		send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "persistence_failed", Message: err.Error()})
		return
	}

	if err := rm.pipeline.Render(ctx, res, targets); err != nil {
		rm.failMessage(sess, msg.ID, "processing_failed", err, send)
		return
	}

	translations := make(map[string]broadcast.Rendering, len(res.Renderings))
	for lang, rendering := range res.Renderings {
		if _, err := rm.registry.SaveTranslation(ctx, msg.ID, lang, rendering.Text, rendering.Audio); err != nil {
			rm.failMessage(sess, msg.ID, "persistence_failed", err, send)
			return
		}
		translations[lang] = broadcast.Rendering{
			Text:  rendering.Text,
			Audio: base64.StdEncoding.EncodeToString(rendering.Audio),
		}
	}

	rm.hub.Publish(sess.RoomCode, broadcast.UtteranceEvent{
		MessageID:     msg.ID,
		SenderName:    sender.Name,
		Transcription: res.Transcription,
		Translations:  translations,
	})

	if err := rm.registry.CompleteMessage(ctx, msg.ID); err != nil {
		rm.failMessage(sess, msg.ID, "persistence_failed", err, send)
		return
	}

	send(protocol.Transcription{
		Type:     protocol.TypeTranscription,
		Text:     res.Transcription,
		Language: res.SourceLanguage,
	})
}

func (rm *Rooms) failMessage(sess *session.Session, messageID, code string, cause error, send func(any) bool) {
	failCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rm.registry.FailMessage(failCtx, messageID, cause.Error()); err != nil {
		log.Printf("realtime: mark message %s failed: %v", messageID, err)
	}
	log.Printf("realtime: utterance failed in %s: %v", sess.RoomCode, cause)
	send(protocol.ErrorEvent{Type: protocol.TypeError, Error: code, Message: cause.Error()})
}

func (rm *Rooms) replayHistory(ctx context.Context, sess *session.Session, p *session.Participant, send func(any) bool) {
	msgs, translations, err := rm.registry.History(ctx, sess.ID, p.TargetLanguage)
	if err != nil {
		send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "history_failed", Message: err.Error()})
		return
	}
	for i, m := range msgs {
		h := protocol.HistoryMessage{
			Type:          protocol.TypeHistoryMessage,
			MessageID:     m.ID,
			SenderName:    sess.SenderName,
			Transcription: m.Transcription,
			CreatedAt:     m.CreatedAt.Format(time.RFC3339),
		}
		if t := translations[i]; t != nil {
			h.Translation = t.Text
			h.Audio = base64.StdEncoding.EncodeToString(t.Audio)
		}
		if !send(h) {
			return
		}
	}
}
