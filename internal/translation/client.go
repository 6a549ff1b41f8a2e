// Package translation talks to a DeepL-compatible machine translation API.
// It is used to detect the language of citizen submissions and to prefill
// missing translations when a request is accepted.
package translation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/spaceplaces/server/internal/config"
	"github.com/spaceplaces/server/internal/metrics"
)

var (
	ErrUpstream = errors.New("translation provider unavailable")
	// ErrDisabled is returned by every call when no provider is configured.
	ErrDisabled = errors.New("translation disabled")
)

// detectSampleRunes bounds the text sent for language detection.
const detectSampleRunes = 500

type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
	Detect(ctx context.Context, text string) (string, error)
}

type translateResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// New returns a client for cfg, or Disabled when translation is off.
func New(cfg config.TranslationConfig, logger zerolog.Logger) Translator {
	if !cfg.Enabled || cfg.APIURL == "" {
		return Disabled{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		apiKey:     cfg.APIKey,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger.With().Str("component", "translation").Logger(),
	}
}

// Translate converts text into targetLang. An empty sourceLang lets the
// provider detect it. HTML markup is preserved.
func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	form := url.Values{}
	form.Add("text", text)
	form.Set("target_lang", strings.ToUpper(targetLang))
	form.Set("tag_handling", "html")
	if sourceLang != "" {
		form.Set("source_lang", strings.ToUpper(sourceLang))
	}

	resp, err := c.call(ctx, "translate", form)
	if err != nil {
		return "", err
	}
	return resp.Translations[0].Text, nil
}

// Detect returns the lowercase ISO 639-1 code of text's language.
func (c *Client) Detect(ctx context.Context, text string) (string, error) {
	sample := []rune(strings.TrimSpace(text))
	if len(sample) == 0 {
		return "", fmt.Errorf("%w: empty text", ErrUpstream)
	}
	if len(sample) > detectSampleRunes {
		sample = sample[:detectSampleRunes]
	}
	form := url.Values{}
	form.Add("text", string(sample))
	form.Set("target_lang", "EN")

	resp, err := c.call(ctx, "detect", form)
	if err != nil {
		return "", err
	}
	lang := strings.ToLower(resp.Translations[0].DetectedSourceLanguage)
	if lang == "" {
		return "", fmt.Errorf("%w: no language detected", ErrUpstream)
	}
	// Regional variants such as EN-GB collapse to their base language.
	if i := strings.IndexByte(lang, '-'); i > 0 {
		lang = lang[:i]
	}
	return lang, nil
}

func (c *Client) call(ctx context.Context, operation string, form url.Values) (*translateResponse, error) {
	start := time.Now()
	resp, err := c.post(ctx, form)
	metrics.UpstreamLatency.WithLabelValues("translation", operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("translation", operation, "error").Inc()
		c.logger.Error().Err(err).Str("operation", operation).Msg("translation request failed")
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	metrics.UpstreamRequestsTotal.WithLabelValues("translation", operation, "success").Inc()
	return resp, nil
}

func (c *Client) post(ctx context.Context, form url.Values) (*translateResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/translate", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "DeepL-Auth-Key "+c.apiKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	var out translateResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Translations) == 0 {
		return nil, fmt.Errorf("empty translations array")
	}
	return &out, nil
}

// Disabled fails every call with ErrDisabled so callers take their fallback.
type Disabled struct{}

func (Disabled) Translate(context.Context, string, string, string) (string, error) {
	return "", ErrDisabled
}

func (Disabled) Detect(context.Context, string) (string, error) {
	return "", ErrDisabled
}
