// Package eleven implements the synth.Vendor and synth.StreamVendor
// interfaces against an ElevenLabs-style synthesis API: a JSON one-shot
// endpoint that can inline character timing, and a WebSocket streaming
// endpoint that interleaves binary audio frames with JSON control frames.
package eleven

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicelane/narrator/pkg/alignment"
	"github.com/voicelane/narrator/pkg/narration"
	"github.com/voicelane/narrator/pkg/synth"
)

// Config configures the client. BaseURL is the HTTP root of the vendor API;
// the streaming endpoint is derived from it by swapping the scheme.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 30 * time.Second
)

// Client talks to the vendor. Safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// New creates a vendor client. A nil logger falls back to slog.Default.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.ReadTimeout},
		logger: logger,
	}
}

// Name identifies the backend in logs.
func (c *Client) Name() string { return "eleven" }

type synthesizeRequest struct {
	Text     string `json:"text"`
	ModelID  string `json:"model_id,omitempty"`
	Language string `json:"language,omitempty"`
}

type synthesizeResponse struct {
	AudioBase64 string                `json:"audio_base64"`
	Alignment   *alignment.CharTiming `json:"alignment,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
}

// Synthesize performs a one-shot synthesis call. The vendor answers either
// with JSON carrying base64 audio plus character timing, or with raw audio
// bytes and no timing.
func (c *Client) Synthesize(ctx context.Context, req synth.Request) (*synth.Result, error) {
	body, err := json.Marshal(synthesizeRequest{
		Text:     req.Text,
		ModelID:  c.cfg.Model,
		Language: req.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s/with-timing",
		strings.TrimSuffix(c.cfg.BaseURL, "/"), url.PathEscape(req.Voice))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("xi-api-key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, narration.Classify(narration.ErrUpstreamUnavailable, err,
			"vendor request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, narration.Classify(narration.ErrUpstreamUnavailable, err,
			"read vendor response")
	}

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		// Raw audio, no inline timing.
		return &synth.Result{Audio: data}, nil
	}

	var parsed synthesizeResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, narration.Classify(narration.ErrUpstreamProtocol, err,
			"malformed vendor response")
	}
	audio, err := base64.StdEncoding.DecodeString(parsed.AudioBase64)
	if err != nil {
		return nil, narration.Classify(narration.ErrUpstreamProtocol, err,
			"malformed vendor audio encoding")
	}

	result := &synth.Result{Audio: audio}
	if !parsed.Alignment.Empty() {
		result.Timing = parsed.Alignment
	}
	return result, nil
}

func classifyStatus(resp *http.Response) error {
	var ae apiError
	msg := fmt.Sprintf("vendor returned status %d", resp.StatusCode)
	if err := json.NewDecoder(resp.Body).Decode(&ae); err == nil && ae.Message != "" {
		msg = ae.Message
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return narration.Classify(narration.ErrVendorRejected, nil, msg)
	}
	return narration.Classify(narration.ErrUpstreamUnavailable, nil, msg)
}

type streamRequest struct {
	Text        string         `json:"text"`
	Voice       string         `json:"voice"`
	ModelConfig map[string]any `json:"modelConfig,omitempty"`
}

// OpenStream dials the vendor's WebSocket endpoint, sends the synthesis
// request and returns the inbound frame stream.
func (c *Client) OpenStream(ctx context.Context, req synth.Request) (synth.Stream, error) {
	u, err := streamURL(c.cfg.BaseURL, req.Voice)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	c.logger.Debug("dialing vendor stream", slog.String("url", u))

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	var header http.Header
	if c.cfg.APIKey != "" {
		header = http.Header{"xi-api-key": []string{c.cfg.APIKey}}
	}

	conn, _, err := dialer.DialContext(ctx, u, header)
	if err != nil {
		return nil, narration.Classify(narration.ErrUpstreamUnavailable, err,
			"vendor stream dial failed")
	}

	msg := streamRequest{Text: req.Text, Voice: req.Voice}
	if c.cfg.Model != "" || req.Language != "" {
		msg.ModelConfig = map[string]any{}
		if c.cfg.Model != "" {
			msg.ModelConfig["model_id"] = c.cfg.Model
		}
		if req.Language != "" {
			msg.ModelConfig["language"] = req.Language
		}
	}
	if err := conn.WriteJSON(msg); err != nil {
		conn.Close()
		return nil, narration.Classify(narration.ErrUpstreamUnavailable, err,
			"send synthesis request")
	}

	return &stream{conn: conn, readTimeout: c.cfg.ReadTimeout}, nil
}

func streamURL(base, voice string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	// JoinPath escapes each element once; writing an escaped string into
	// u.Path would get re-encoded by String.
	return u.JoinPath("v1", "text-to-speech", voice, "stream-input").String(), nil
}

var _ synth.StreamVendor = (*Client)(nil)
