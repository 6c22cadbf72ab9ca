package realtime

import (
	"context"
	"encoding/base64"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxlate/voxlate/internal/audiobuf"
	"github.com/voxlate/voxlate/internal/protocol"
	"github.com/voxlate/voxlate/internal/speech"
	"github.com/voxlate/voxlate/internal/vad"
)

// TranslateOptions tune utterance capture for a translate connection.
type TranslateOptions struct {
	SampleRate        int
	MaxBufferDuration time.Duration
	VADAggressiveness int
	SilenceFrames     int
}

// Translator runs single-client translate connections: the client streams
// microphone audio and receives transcription, translation text and
// synthesized audio for one configured language pair.
type Translator struct {
	pipeline *speech.Pipeline
	opts     TranslateOptions
}

func NewTranslator(pipeline *speech.Pipeline, opts TranslateOptions) *Translator {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.MaxBufferDuration <= 0 {
		opts.MaxBufferDuration = 5 * time.Second
	}
	if opts.SilenceFrames <= 0 {
		opts.SilenceFrames = 10
	}
	return &Translator{pipeline: pipeline, opts: opts}
}

// RunConnection drives one translate connection until the inbound channel
// closes or ctx is cancelled. It owns outbound and closes it on return. An
// utterance already in the pipeline when the client disconnects finishes in
// the background and its result is discarded.
func (t *Translator) RunConnection(ctx context.Context, connID string, inbound <-chan any, outbound chan<- any) error {
	var (
		buffer     *audiobuf.Buffer
		source     string
		target     string
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

	send(protocol.ConnectionEstablished{
		Type:         protocol.TypeConnectionEstablished,
		ConnectionID: connID,
		Message:      "send a configure message to choose languages",
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			switch m := msg.(type) {
			case protocol.Configure:
				detector, err := vad.New(t.opts.VADAggressiveness, t.opts.SampleRate)
				if err != nil {
					send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "configure_failed", Message: err.Error()})
					continue
				}
				source = m.SourceLanguage
				target = m.TargetLanguage
				buffer = audiobuf.New(audiobuf.Options{
					SampleRate:    t.opts.SampleRate,
					MaxDuration:   t.opts.MaxBufferDuration,
					SilenceFrames: t.opts.SilenceFrames,
					Detector:      detector,
				})
				send(protocol.Configured{
					Type:           protocol.TypeConfigured,
					SourceLanguage: source,
					TargetLanguage: target,
					Message:        "translation configured",
				})

			case protocol.Ping:
				send(protocol.Pong{Type: protocol.TypePong})

			case AudioChunk:
				if buffer == nil {
					send(protocol.ErrorEvent{
						Type:    protocol.TypeError,
						Error:   "not_configured",
						Message: "send a configure message before streaming audio",
					})
					continue
				}
				if processing.Load() {
					// One utterance at a time; chunks arriving mid-pipeline
					// are dropped instead of queueing unbounded audio.
					continue
				}
				buffer.Append(m.Data)
				if !buffer.Complete() {
					continue
				}
				utterance := buffer.Drain()
				processing.Store(true)
				send(protocol.Processing{Type: protocol.TypeProcessing, Message: "processing speech"})

				inflight.Add(1)
				go func() {
					defer inflight.Done()
					defer processing.Store(false)
					t.processUtterance(ctx, utterance, source, target, send)
				}()

			default:
				send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "unsupported_message"})
			}
		}
	}
}

func (t *Translator) processUtterance(ctx context.Context, utterance []byte, source, target string, send func(any) bool) {
	res, err := t.pipeline.Run(ctx, utterance, source, []string{target})
	if err != nil {
		log.Printf("realtime: translate pipeline failed: %v", err)
		send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "processing_failed", Message: err.Error()})
		return
	}
	if res.NoSpeech() {
		send(protocol.Info{Type: protocol.TypeInfo, Message: "no speech detected"})
		return
	}

	send(protocol.Transcription{
		Type:     protocol.TypeTranscription,
		Text:     res.Transcription,
		Language: res.SourceLanguage,
	})
	rendering, ok := res.Renderings[target]
	if !ok {
		send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "processing_failed", Message: "no rendering produced"})
		return
	}
	send(protocol.Translation{
		Type:     protocol.TypeTranslation,
		Text:     rendering.Text,
		Language: target,
	})
	send(BinaryFrame{Data: rendering.Audio})
	send(protocol.AudioComplete{Type: protocol.TypeAudioComplete, Message: "playback ready"})
}

// DecodeAudioPayload decodes the base64 audio carried by audio_file messages.
func DecodeAudioPayload(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(data)
}
