package speech

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/voxlate/voxlate/internal/observability"
	"github.com/voxlate/voxlate/internal/reliability"
)

// Rendering is one target-language output of a pipeline run.
type Rendering struct {
	Text  string
	Audio []byte
}

// Result is the outcome of processing one utterance. A result with an empty
// Transcription means no speech was recognized; Renderings is empty then.
type Result struct {
	SourceLanguage string
	Transcription  string
	Renderings     map[string]Rendering
	Elapsed        time.Duration
}

// NoSpeech reports whether the utterance produced no usable transcription.
func (r *Result) NoSpeech() bool {
	return strings.TrimSpace(r.Transcription) == ""
}

// PipelineOptions tune retry behavior for transient provider failures.
type PipelineOptions struct {
	RetryMax  int
	RetryBase time.Duration
	Metrics   *observability.Metrics
}

// Pipeline runs transcribe, translate and synthesize for one utterance.
// Translation and synthesis run once per distinct target language; a
// failure on any language fails the whole utterance so no receiver sees
// a partial result.
type Pipeline struct {
	provider  Provider
	retryMax  int
	retryBase time.Duration
	metrics   *observability.Metrics
}

func NewPipeline(provider Provider, opts PipelineOptions) *Pipeline {
	retryMax := opts.RetryMax
	if retryMax <= 0 {
		retryMax = 3
	}
	retryBase := opts.RetryBase
	if retryBase <= 0 {
		retryBase = time.Second
	}
	return &Pipeline{
		provider:  provider,
		retryMax:  retryMax,
		retryBase: retryBase,
		metrics:   opts.Metrics,
	}
}

const retryCap = 30 * time.Second

// Run processes one complete utterance. The audio is WAV bytes. When
// sourceLanguage is LanguageAuto the spoken language is detected first and
// the detected code is reported in the result.
func (p *Pipeline) Run(ctx context.Context, audioData []byte, sourceLanguage string, targetLanguages []string) (*Result, error) {
	start := time.Now()

	result, err := p.Transcribe(ctx, audioData, sourceLanguage)
	if err != nil {
		return nil, err
	}
	if result.NoSpeech() {
		result.Elapsed = time.Since(start)
		return result, nil
	}
	if err := p.Render(ctx, result, targetLanguages); err != nil {
		return nil, err
	}

	result.Elapsed = time.Since(start)
	if p.metrics != nil {
		p.metrics.ObservePipelineLatency(result.Elapsed)
	}
	log.Printf("pipeline: processed utterance source=%s targets=%d in %s", result.SourceLanguage, len(result.Renderings), result.Elapsed)
	return result, nil
}

// Transcribe runs the detection and transcription steps only, so callers
// that need to record the utterance before rendering can do so.
func (p *Pipeline) Transcribe(ctx context.Context, audioData []byte, sourceLanguage string) (*Result, error) {
	source := sourceLanguage
	if source == "" || source == LanguageAuto {
		detected, err := p.withRetry(ctx, "detect", func() (string, error) {
			return p.provider.DetectLanguage(ctx, audioData)
		})
		if err != nil {
			return nil, fmt.Errorf("language detection failed: %w", err)
		}
		source = detected
	}

	transcription, err := p.withRetry(ctx, "transcribe", func() (string, error) {
		return p.provider.Transcribe(ctx, audioData, source)
	})
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}

	return &Result{
		SourceLanguage: source,
		Transcription:  transcription,
		Renderings:     make(map[string]Rendering),
	}, nil
}

// Render translates and synthesizes the transcribed result once per
// distinct target language, filling result.Renderings. Any failure leaves
// the result without that rendering and aborts the remaining languages.
func (p *Pipeline) Render(ctx context.Context, result *Result, targetLanguages []string) error {
	for _, target := range dedupe(targetLanguages) {
		text, err := p.withRetry(ctx, "translate", func() (string, error) {
			return p.provider.Translate(ctx, result.Transcription, result.SourceLanguage, target)
		})
		if err != nil {
			return fmt.Errorf("translation to %s failed: %w", target, err)
		}

		var synthesized []byte
		err = reliability.Retry(ctx, p.retryMax, p.retryBase, retryCap, func() error {
			var synthErr error
			synthesized, synthErr = p.provider.Synthesize(ctx, text, target)
			return synthErr
		})
		if err != nil {
			p.countError("synthesize", err)
			return fmt.Errorf("synthesis for %s failed: %w", target, err)
		}

		result.Renderings[target] = Rendering{Text: text, Audio: synthesized}
		if p.metrics != nil {
			p.metrics.TranslationsTotal.WithLabelValues(target).Inc()
		}
	}
	return nil
}

func (p *Pipeline) withRetry(ctx context.Context, capability string, fn func() (string, error)) (string, error) {
	var out string
	err := reliability.Retry(ctx, p.retryMax, p.retryBase, retryCap, func() error {
		var callErr error
		out, callErr = fn()
		return callErr
	})
	if err != nil {
		p.countError(capability, err)
	}
	return out, err
}

func (p *Pipeline) countError(capability string, err error) {
	if p.metrics == nil {
		return
	}
	kind := "permanent"
	if reliability.IsTransient(err) {
		kind = "transient"
	}
	p.metrics.ProviderErrors.WithLabelValues(capability, kind).Inc()
}

func dedupe(languages []string) []string {
	seen := make(map[string]struct{}, len(languages))
	out := make([]string, 0, len(languages))
	for _, lang := range languages {
		if lang == "" {
			continue
		}
		if _, ok := seen[lang]; ok {
			continue
		}
		seen[lang] = struct{}{}
		out = append(out, lang)
	}
	return out
}
