package vad

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Analyzer classifies fixed-size PCM16LE mono frames as speech or silence.
//
// Classification uses short-term energy with an aggressiveness-scaled
// threshold: level 0 is the most permissive (more frames count as speech),
// level 3 the strictest.
type Analyzer struct {
	aggressiveness int
	sampleRate     int
	frameSize      int
	threshold      float64
}

const frameDurationMs = 30

// RMS amplitude thresholds on the int16 scale, indexed by aggressiveness.
var energyThresholds = [4]float64{180, 320, 500, 760}

var supportedRates = map[int]bool{8000: true, 16000: true, 32000: true, 48000: true}

func New(aggressiveness, sampleRate int) (*Analyzer, error) {
	if aggressiveness < 0 || aggressiveness > 3 {
		return nil, fmt.Errorf("aggressiveness must be 0-3, got %d", aggressiveness)
	}
	if !supportedRates[sampleRate] {
		return nil, fmt.Errorf("sample rate must be 8000, 16000, 32000 or 48000 Hz, got %d", sampleRate)
	}
	return &Analyzer{
		aggressiveness: aggressiveness,
		sampleRate:     sampleRate,
		frameSize:      sampleRate * frameDurationMs / 1000 * 2, // 2 bytes per sample
		threshold:      energyThresholds[aggressiveness],
	}, nil
}

// FrameSize returns the expected frame length in bytes.
func (a *Analyzer) FrameSize() int { return a.frameSize }

// IsSpeech reports whether a single frame contains speech. Frames of the
// wrong length are zero-padded or truncated before classification.
func (a *Analyzer) IsSpeech(frame []byte) bool {
	if len(frame) < a.frameSize {
		padded := make([]byte, a.frameSize)
		copy(padded, frame)
		frame = padded
	} else if len(frame) > a.frameSize {
		frame = frame[:a.frameSize]
	}
	return rmsAmplitude(frame) >= a.threshold
}

// SpeechEnded reports whether speech has ended across an ordered frame
// sequence: at least 80% of the most recent silenceThreshold frames must be
// silent. Fewer frames than the threshold never declares an end.
func (a *Analyzer) SpeechEnded(frames [][]byte, silenceThreshold int) bool {
	if silenceThreshold <= 0 {
		silenceThreshold = 10
	}
	if len(frames) < silenceThreshold {
		return false
	}

	recent := frames[len(frames)-silenceThreshold:]
	silent := 0
	for _, frame := range recent {
		if !a.IsSpeech(frame) {
			silent++
		}
	}
	return float64(silent) >= float64(silenceThreshold)*0.8
}

// SplitFrames slices raw audio into classification-sized frames, discarding
// a trailing partial frame.
func (a *Analyzer) SplitFrames(data []byte) [][]byte {
	frames := make([][]byte, 0, len(data)/a.frameSize)
	for off := 0; off+a.frameSize <= len(data); off += a.frameSize {
		frames = append(frames, data[off:off+a.frameSize])
	}
	return frames
}

func rmsAmplitude(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(frame[i*2 : i*2+2]))
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(n))
}
