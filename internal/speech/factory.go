package speech

import (
	"fmt"
	"strings"
)

// SelectProvider resolves the configured provider mode. "auto" picks the
// HTTP backend when all three service URLs are configured and falls back to
// the mock otherwise. Returns the provider and the resolved mode name.
func SelectProvider(mode string, cfg HTTPConfig) (Provider, string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "mock":
		return NewMockProvider(), "mock", nil
	case "http":
		p, err := NewHTTPProvider(cfg)
		if err != nil {
			return nil, "", err
		}
		return p, "http", nil
	case "auto", "":
		if cfg.TranscriberURL != "" && cfg.TranslatorURL != "" && cfg.SynthesizerURL != "" {
			p, err := NewHTTPProvider(cfg)
			if err != nil {
				return nil, "", err
			}
			return p, "http", nil
		}
		return NewMockProvider(), "mock", nil
	default:
		return nil, "", fmt.Errorf("speech: unknown provider mode %q", mode)
	}
}
