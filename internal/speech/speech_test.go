package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/config"
)

func testConfig(baseURL string) config.SpeechConfig {
	return config.SpeechConfig{
		APIKey:       "xi-test",
		BaseURL:      baseURL,
		VoiceID:      config.DefaultElevenLabsVoiceID,
		ModelID:      config.DefaultElevenLabsModelID,
		OutputFormat: config.DefaultElevenLabsOutputFormat,
		LatencyHint:  config.DefaultElevenLabsLatencyHint,
		MaxChars:     10,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSynthesize_Success(t *testing.T) {
	var gotPath, gotKey, gotAccept string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		gotAccept = r.Header.Get("Accept")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL+"/"), quietLogger())
	res, err := c.Synthesize(context.Background(), Request{Text: "  Patient in room twelve fell  "})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if gotPath != "/v1/text-to-speech/"+config.DefaultElevenLabsVoiceID+"/stream" {
		t.Fatalf("path=%q", gotPath)
	}
	if gotKey != "xi-test" || gotAccept != "audio/mpeg" {
		t.Fatalf("headers: key=%q accept=%q", gotKey, gotAccept)
	}
	if gotBody["text"] != "Patient in" {
		t.Fatalf("text=%q, want truncation to 10 chars", gotBody["text"])
	}
	if gotBody["modelId"] != config.DefaultElevenLabsModelID || gotBody["outputFormat"] != config.DefaultElevenLabsOutputFormat {
		t.Fatalf("body=%v", gotBody)
	}
	if gotBody["optimizeStreamingLatency"] != float64(2) {
		t.Fatalf("optimizeStreamingLatency=%v, want 2", gotBody["optimizeStreamingLatency"])
	}
	if string(res.Audio) != "ID3audio" || res.ContentType != "audio/mpeg" {
		t.Fatalf("result=%+v", res)
	}
	if res.VoiceID != config.DefaultElevenLabsVoiceID || res.ModelID != config.DefaultElevenLabsModelID {
		t.Fatalf("result ids=%q/%q", res.VoiceID, res.ModelID)
	}
}

func TestSynthesize_Overrides(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	latency := 0.0
	c := NewClient(testConfig(srv.URL), quietLogger())
	res, err := c.Synthesize(context.Background(), Request{
		Text:        "hi",
		VoiceID:     " custom ",
		ModelID:     "turbo",
		LatencyHint: &latency,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotPath != "/v1/text-to-speech/custom/stream" {
		t.Fatalf("path=%q", gotPath)
	}
	if gotBody["modelId"] != "turbo" || gotBody["optimizeStreamingLatency"] != float64(0) {
		t.Fatalf("body=%v", gotBody)
	}
	if res.VoiceID != "custom" || res.ModelID != "turbo" {
		t.Fatalf("result=%+v", res)
	}
}

func TestSynthesize_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":{"status":"invalid_api_key"}}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), quietLogger())
	_, err := c.Synthesize(context.Background(), Request{Text: "hello"})

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("err=%v, want *UpstreamError", err)
	}
	if upstream.Status != http.StatusUnauthorized {
		t.Fatalf("Status=%d, want 401", upstream.Status)
	}
	details, ok := upstream.Details.(map[string]any)
	if !ok || details["detail"] == nil {
		t.Fatalf("Details=%#v, want decoded JSON", upstream.Details)
	}
}

func TestSynthesize_UpstreamTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), quietLogger())
	_, err := c.Synthesize(context.Background(), Request{Text: "hello"})
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("err=%v, want *UpstreamError", err)
	}
	if s, ok := upstream.Details.(string); !ok || !strings.Contains(s, "quota exceeded") {
		t.Fatalf("Details=%#v, want raw text", upstream.Details)
	}
}

func TestSynthesize_NotConfiguredAndEmpty(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.APIKey = ""
	if _, err := NewClient(cfg, quietLogger()).Synthesize(context.Background(), Request{Text: "x"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err=%v, want ErrNotConfigured", err)
	}

	c := NewClient(testConfig("http://127.0.0.1:1"), quietLogger())
	if _, err := c.Synthesize(context.Background(), Request{Text: "   "}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("err=%v, want ErrEmptyText", err)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("héllo wörld", 7); got != "héllo w" {
		t.Fatalf("truncateRunes=%q", got)
	}
	if got := truncateRunes("abc", 5); got != "abc" {
		t.Fatalf("truncateRunes=%q", got)
	}
}
