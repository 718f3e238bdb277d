// Package openai implements synth.Vendor on the OpenAI speech API. It is
// one-shot only and never returns character timing, so alignment for its
// output is always estimated.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/voicelane/narrator/pkg/narration"
	"github.com/voicelane/narrator/pkg/synth"
)

// Config configures the vendor. An empty APIKey falls back to the
// OPENAI_API_KEY environment variable.
type Config struct {
	APIKey string
	Model  string
	Voice  string
}

// Vendor wraps the OpenAI client. Safe for concurrent use.
type Vendor struct {
	client *goopenai.Client
	model  string
	voice  string
}

// New creates the vendor, reading the API key from the environment when
// the config leaves it empty.
func New(cfg Config) (*Vendor, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("OpenAI API key is required (set OPENAI_API_KEY or configure one)")
	}
	model := cfg.Model
	if model == "" {
		model = "tts-1"
	}
	voice := cfg.Voice
	if voice == "" {
		voice = "alloy"
	}
	return &Vendor{
		client: goopenai.NewClient(key),
		model:  model,
		voice:  voice,
	}, nil
}

// Name identifies the backend in logs.
func (v *Vendor) Name() string { return "openai" }

// Synthesize issues a single CreateSpeech call and buffers the response.
// The Timing field of the result is always nil.
func (v *Vendor) Synthesize(ctx context.Context, req synth.Request) (*synth.Result, error) {
	voice := req.Voice
	if voice == "" {
		voice = v.voice
	}

	resp, err := v.client.CreateSpeech(ctx, goopenai.CreateSpeechRequest{
		Model: goopenai.SpeechModel(v.model),
		Input: req.Text,
		Voice: goopenai.SpeechVoice(voice),
	})
	if err != nil {
		if isRequestError(err) {
			return nil, narration.Classify(narration.ErrVendorRejected, err,
				"openai rejected synthesis request")
		}
		return nil, narration.Classify(narration.ErrUpstreamUnavailable, err,
			"openai synthesis call failed")
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, narration.Classify(narration.ErrUpstreamUnavailable, err,
			"read openai audio")
	}

	return &synth.Result{Audio: audio}, nil
}

// isRequestError distinguishes 4xx application rejections from transport
// and server failures.
func isRequestError(err error) bool {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500
	}
	return false
}

var _ synth.Vendor = (*Vendor)(nil)
