// Package captcha verifies reCAPTCHA/hCaptcha tokens through the provider's
// siteverify endpoint. Every failure path rejects the submission.
package captcha

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

	"github.com/spaceplaces/server/internal/config"
	"github.com/spaceplaces/server/internal/metrics"
)

var (
	// ErrVerificationFailed means the provider rejected the token.
	ErrVerificationFailed = errors.New("captcha verification failed")
	// ErrUnavailable means the provider could not be asked.
	ErrUnavailable = errors.New("captcha provider unavailable")
)

type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score,omitempty"`
	Action     string   `json:"action,omitempty"`
	Hostname   string   `json:"hostname,omitempty"`
	ErrorCodes []string `json:"error-codes,omitempty"`
}

type Client struct {
	httpClient *http.Client
	verifyURL  string
	secret     string
	minScore   float64
	logger     zerolog.Logger
}

// New returns a verifier for cfg. A disabled config yields a verifier that
// accepts everything, for local development.
func New(cfg config.CaptchaConfig, logger zerolog.Logger) Verifier {
	logger = logger.With().Str("component", "captcha").Logger()
	if !cfg.Enabled {
		return Disabled{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		verifyURL:  cfg.VerifyURL,
		secret:     cfg.SecretKey,
		minScore:   cfg.MinScore,
		logger:     logger,
	}
}

func (c *Client) Verify(ctx context.Context, token, remoteIP string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		metrics.UpstreamRequestsTotal.WithLabelValues("captcha", "verify", "rejected").Inc()
		return ErrVerificationFailed
	}

	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	start := time.Now()
	resp, err := c.post(ctx, form)
	metrics.UpstreamLatency.WithLabelValues("captcha", "verify").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("captcha", "verify", "error").Inc()
		c.logger.Error().Err(err).Msg("captcha siteverify failed")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if !resp.Success {
		metrics.UpstreamRequestsTotal.WithLabelValues("captcha", "verify", "rejected").Inc()
		c.logger.Warn().Strs("error_codes", resp.ErrorCodes).Str("remote_ip", remoteIP).Msg("captcha token rejected")
		return ErrVerificationFailed
	}
	if resp.Score != nil && *resp.Score < c.minScore {
		metrics.UpstreamRequestsTotal.WithLabelValues("captcha", "verify", "rejected").Inc()
		c.logger.Warn().Float64("score", *resp.Score).Float64("min_score", c.minScore).Msg("captcha score below threshold")
		return ErrVerificationFailed
	}

	metrics.UpstreamRequestsTotal.WithLabelValues("captcha", "verify", "success").Inc()
	return nil
}

func (c *Client) post(ctx context.Context, form url.Values) (*siteverifyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	var out siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 64<<10)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// Disabled accepts every token.
type Disabled struct{}

func (Disabled) Verify(context.Context, string, string) error {
	return nil
}
