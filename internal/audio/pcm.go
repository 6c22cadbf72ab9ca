package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const bytesPerSample = 2 // PCM16

// Duration reports how much audio time a raw PCM16LE mono byte slice represents.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / bytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// EncodeWAV wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAV(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAV writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAV(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	dataSize := uint32(len(pcm))
	header := []any{
		[]byte("RIFF"),
		uint32(36) + dataSize,
		[]byte("WAVE"),
		[]byte("fmt "),
		uint32(16),
		uint16(audioFormat),
		uint16(numChannels),
		uint32(sampleRate),
		uint32(sampleRate * numChannels * bitsPerSample / 8),
		uint16(numChannels * bitsPerSample / 8),
		uint16(bitsPerSample),
		[]byte("data"),
		dataSize,
	}
	for _, field := range header {
		if err := binary.Write(out, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	_, err := out.Write(pcm)
	return err
}

// Info describes the format of a probed WAV payload.
type Info struct {
	SampleRate int
	Channels   int
	Bits       int
	DataBytes  int
}

// Duration reports the audio duration described by the probe result.
func (i Info) Duration() time.Duration {
	frameBytes := i.Channels * i.Bits / 8
	if i.SampleRate <= 0 || frameBytes <= 0 {
		return 0
	}
	frames := i.DataBytes / frameBytes
	return time.Duration(frames) * time.Second / time.Duration(i.SampleRate)
}

var ErrNotWAV = errors.New("payload is not a RIFF/WAVE stream")

// ProbeWAV parses the header of a WAV payload without decoding sample data.
// Used to validate uploads before queueing a processing job.
func ProbeWAV(data []byte) (Info, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Info{}, ErrNotWAV
	}

	var info Info
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body > len(data) {
			return Info{}, fmt.Errorf("malformed chunk %q", id)
		}

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return Info{}, errors.New("fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return Info{}, fmt.Errorf("unsupported audio format %d, want PCM", format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.Bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			if body+size > len(data) {
				size = len(data) - body
			}
			info.DataBytes = size
		}

		// Chunks are word aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if info.SampleRate == 0 {
		return Info{}, errors.New("missing fmt chunk")
	}
	if info.DataBytes == 0 {
		return Info{}, errors.New("missing data chunk")
	}
	return info, nil
}
