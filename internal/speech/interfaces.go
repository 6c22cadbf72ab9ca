package speech

import "context"

// LanguageAuto asks the transcriber to detect the spoken language before
// transcribing. Detection applies to the current segment only.
const LanguageAuto = "auto"

// Transcriber converts a complete audio segment (WAV bytes) to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
	DetectLanguage(ctx context.Context, audio []byte) (string, error)
}

// Translator renders text from one language into another. Implementations
// pass text through unchanged when source equals target.
type Translator interface {
	Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error)
}

// Voice describes one synthesizer voice.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

// Synthesizer produces speech audio for text in a given language.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
	// SynthesizeStream yields audio incrementally. The channel closes when
	// synthesis finishes; a trailing error, if any, is delivered via errCh.
	SynthesizeStream(ctx context.Context, text, language string) (<-chan []byte, <-chan error)
	ListVoices(ctx context.Context) ([]Voice, error)
}

// Provider bundles the three capabilities one backend implements. The
// backend is selected once at startup from configuration.
type Provider interface {
	Transcriber
	Translator
	Synthesizer
}
