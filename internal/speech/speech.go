// Package speech turns alert text into spoken audio through the ElevenLabs
// text-to-speech API.
package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/config"
)

var (
	ErrNotConfigured = errors.New("elevenlabs api key not configured")
	ErrEmptyText     = errors.New("text is required")
)

// UpstreamError is returned when the synthesis service answers with a
// non-success status. Details holds the decoded JSON error body when there is
// one, otherwise the raw text.
type UpstreamError struct {
	Status  int
	Details any
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("elevenlabs responded with status %d", e.Status)
}

// Request fields left empty fall back to the client's configured defaults.
type Request struct {
	Text         string
	VoiceID      string
	ModelID      string
	OutputFormat string
	// LatencyHint is optimizeStreamingLatency; nil uses the default.
	LatencyHint *float64
}

type Result struct {
	Audio       []byte
	ContentType string
	VoiceID     string
	ModelID     string
}

type Client struct {
	http     *resty.Client
	apiKey   string
	defaults config.SpeechConfig
	log      *slog.Logger
}

type synthesisBody struct {
	Text                     string  `json:"text"`
	ModelID                  string  `json:"modelId"`
	OutputFormat             string  `json:"outputFormat"`
	OptimizeStreamingLatency float64 `json:"optimizeStreamingLatency"`
}

func NewClient(cfg config.SpeechConfig, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = config.DefaultElevenLabsBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultElevenLabsTimeout
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = config.DefaultAlertAudioMaxChars
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "audio/mpeg")

	return &Client{
		http:     httpClient,
		apiKey:   cfg.APIKey,
		defaults: cfg,
		log:      logger,
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// Synthesize requests speech for req.Text, truncated to the configured
// character limit.
func (c *Client) Synthesize(ctx context.Context, req Request) (Result, error) {
	if !c.Configured() {
		return Result{}, ErrNotConfigured
	}
	text := truncateRunes(strings.TrimSpace(req.Text), c.defaults.MaxChars)
	if text == "" {
		return Result{}, ErrEmptyText
	}

	voiceID := orDefault(req.VoiceID, c.defaults.VoiceID)
	modelID := orDefault(req.ModelID, c.defaults.ModelID)
	outputFormat := orDefault(req.OutputFormat, c.defaults.OutputFormat)
	latency := float64(c.defaults.LatencyHint)
	if req.LatencyHint != nil {
		latency = *req.LatencyHint
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("xi-api-key", c.apiKey).
		SetBody(synthesisBody{
			Text:                     text,
			ModelID:                  modelID,
			OutputFormat:             outputFormat,
			OptimizeStreamingLatency: latency,
		}).
		Post("/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream")
	if err != nil {
		c.log.Error("speech synthesis request failed", "voice_id", voiceID, "err", err)
		return Result{}, fmt.Errorf("elevenlabs request: %w", err)
	}
	if !resp.IsSuccess() {
		details := decodeDetails(resp.Body())
		c.log.Warn("speech synthesis rejected", "voice_id", voiceID, "status", resp.StatusCode(), "details", details)
		return Result{}, &UpstreamError{Status: resp.StatusCode(), Details: details}
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return Result{
		Audio:       resp.Body(),
		ContentType: contentType,
		VoiceID:     voiceID,
		ModelID:     modelID,
	}, nil
}

func decodeDetails(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return v
	}
	return string(body)
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
