package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxlate/voxlate/internal/reliability"
)

// HTTPConfig points the HTTP provider at the three capability services.
// A single service exposing all endpoints can be configured by repeating
// its base URL.
type HTTPConfig struct {
	TranscriberURL string
	TranslatorURL  string
	SynthesizerURL string
	APIKey         string
	Timeout        time.Duration
}

// HTTPProvider talks to speech services over JSON HTTP. Retryable upstream
// statuses are wrapped as transient so callers can back off and retry;
// everything else fails permanently.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	for name, u := range map[string]string{
		"transcriber": cfg.TranscriberURL,
		"translator":  cfg.TranslatorURL,
		"synthesizer": cfg.SynthesizerURL,
	} {
		if strings.TrimSpace(u) == "" {
			return nil, fmt.Errorf("speech: %s URL is required", name)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (p *HTTPProvider) Transcribe(ctx context.Context, audioData []byte, language string) (string, error) {
	req := map[string]string{
		"audio":    base64.StdEncoding.EncodeToString(audioData),
		"language": language,
	}
	var resp struct {
		Text string `json:"text"`
	}
	if err := p.postJSON(ctx, p.cfg.TranscriberURL+"/transcribe", req, &resp); err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return resp.Text, nil
}

func (p *HTTPProvider) DetectLanguage(ctx context.Context, audioData []byte) (string, error) {
	req := map[string]string{
		"audio": base64.StdEncoding.EncodeToString(audioData),
	}
	var resp struct {
		Language string `json:"language"`
	}
	if err := p.postJSON(ctx, p.cfg.TranscriberURL+"/detect", req, &resp); err != nil {
		return "", fmt.Errorf("detect language: %w", err)
	}
	if resp.Language == "" {
		return "", fmt.Errorf("detect language: empty result")
	}
	return resp.Language, nil
}

func (p *HTTPProvider) Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error) {
	if sourceLanguage == targetLanguage {
		return text, nil
	}
	req := map[string]string{
		"text":   text,
		"source": sourceLanguage,
		"target": targetLanguage,
	}
	var resp struct {
		Text string `json:"text"`
	}
	if err := p.postJSON(ctx, p.cfg.TranslatorURL+"/translate", req, &resp); err != nil {
		return "", fmt.Errorf("translate to %s: %w", targetLanguage, err)
	}
	return resp.Text, nil
}

func (p *HTTPProvider) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	body, err := p.postRaw(ctx, p.cfg.SynthesizerURL+"/synthesize", map[string]string{
		"text":     text,
		"language": language,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize %s: %w", language, err)
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("synthesize %s: read response: %w", language, err)
	}
	return data, nil
}

func (p *HTTPProvider) SynthesizeStream(ctx context.Context, text, language string) (<-chan []byte, <-chan error) {
	out := make(chan []byte, 4)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		body, err := p.postRaw(ctx, p.cfg.SynthesizerURL+"/synthesize", map[string]string{
			"text":     text,
			"language": language,
			"stream":   "true",
		})
		if err != nil {
			errCh <- fmt.Errorf("synthesize stream %s: %w", language, err)
			return
		}
		defer body.Close()
		buf := make([]byte, 32*1024)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case out <- chunk:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- fmt.Errorf("synthesize stream %s: %w", language, err)
				return
			}
		}
	}()
	return out, errCh
}

func (p *HTTPProvider) ListVoices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.SynthesizerURL+"/voices", nil)
	if err != nil {
		return nil, err
	}
	p.setHeaders(req)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, reliability.Transient(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var voices []Voice
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return nil, fmt.Errorf("list voices: decode: %w", err)
	}
	return voices, nil
}

func (p *HTTPProvider) postJSON(ctx context.Context, url string, payload, result any) error {
	body, err := p.postRaw(ctx, url, payload)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (p *HTTPProvider) postRaw(ctx context.Context, url string, payload any) (io.ReadCloser, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	p.setHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		// Network failures are worth one more try.
		return nil, reliability.Transient(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp.Body, nil
}

func (p *HTTPProvider) setHeaders(req *http.Request) {
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
}

func statusError(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
		return reliability.Transient(err)
	}
	return err
}
