package audiobuf

import (
	"sync"
	"time"

	"github.com/voxlate/voxlate/internal/vad"
)

const minUtteranceDuration = 500 * time.Millisecond

// Buffer accumulates raw PCM16LE audio for one connection and decides when a
// complete utterance has been captured: either the voice activity detector
// reports trailing silence, or the buffer reaches a hard size cap that bounds
// latency and memory when VAD misdetects.
type Buffer struct {
	mu sync.Mutex

	sampleRate    int
	maxBytes      int
	minBytes      int
	silenceFrames int

	detector *vad.Analyzer
	data     []byte
	frames   [][]byte
}

// Options configures a Buffer. A nil detector disables VAD and falls back to
// size-based completion only.
type Options struct {
	SampleRate    int
	MaxDuration   time.Duration
	SilenceFrames int
	Detector      *vad.Analyzer
}

func New(opts Options) *Buffer {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 5 * time.Second
	}
	if opts.SilenceFrames <= 0 {
		opts.SilenceFrames = 10
	}
	return &Buffer{
		sampleRate:    opts.SampleRate,
		maxBytes:      bytesForDuration(opts.SampleRate, opts.MaxDuration),
		minBytes:      bytesForDuration(opts.SampleRate, minUtteranceDuration),
		silenceFrames: opts.SilenceFrames,
		detector:      opts.Detector,
	}
}

func bytesForDuration(sampleRate int, d time.Duration) int {
	return int(int64(sampleRate) * int64(d) / int64(time.Second) * 2) // 2 bytes per sample
}

// Append adds a raw audio chunk and, when VAD is enabled, slices it into
// classification frames alongside the byte buffer.
func (b *Buffer) Append(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, chunk...)
	if b.detector != nil {
		b.frames = append(b.frames, b.detector.SplitFrames(chunk)...)
	}
}

// Complete reports whether the buffered audio forms a finished utterance.
// The size cap wins over VAD in both directions: a full buffer is always
// complete, and a buffer below the minimum duration never is.
func (b *Buffer) Complete() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data) >= b.maxBytes {
		return true
	}
	if len(b.data) < b.minBytes {
		return false
	}
	if b.detector != nil && len(b.frames) > 0 {
		return b.detector.SpeechEnded(b.frames, b.silenceFrames)
	}
	return false
}

// Drain returns the accumulated audio and clears the buffer in one step.
func (b *Buffer) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.data
	b.data = nil
	b.frames = nil
	return out
}

// Duration reports how much audio is currently buffered.
func (b *Buffer) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	samples := len(b.data) / 2
	return time.Duration(samples) * time.Second / time.Duration(b.sampleRate)
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

func (b *Buffer) Empty() bool {
	return b.Len() == 0
}
