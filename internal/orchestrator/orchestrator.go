// Package orchestrator implements the one-shot synthesis path: fingerprint,
// cache lookup, vendor call on miss, alignment, persistence. The streaming
// relay reuses it for fallback synthesis and for persisting streamed audio.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/voicelane/narrator/internal/audiostore"
	"github.com/voicelane/narrator/internal/cache"
	"github.com/voicelane/narrator/pkg/alignment"
	"github.com/voicelane/narrator/pkg/narration"
	"github.com/voicelane/narrator/pkg/synth"
)

// Request is one synthesis job.
type Request struct {
	Text      string `json:"text"`
	VoiceID   string `json:"voiceId"`
	Language  string `json:"language,omitempty"`
	ContextID string `json:"contextId,omitempty"`
}

// Validate enforces the required fields. Failures never reach the vendor.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return narration.Classify(narration.ErrInvalidRequest, nil, "text is required")
	}
	if strings.TrimSpace(r.VoiceID) == "" {
		return narration.Classify(narration.ErrInvalidRequest, nil, "voiceId is required")
	}
	return nil
}

// Result is a finished synthesis. Audio carries the raw bytes only when the
// vendor was actually called this time; on a cache hit it is nil and the
// caller serves AudioURL instead.
type Result struct {
	AudioURL  string
	Alignment []alignment.Word
	Precise   bool
	Cached    bool
	Audio     []byte
}

// Orchestrator wires the vendor to the cache and audio stores.
type Orchestrator struct {
	vendor  synth.Vendor
	cache   cache.Store
	audio   audiostore.Store
	wordDur time.Duration
	logger  *slog.Logger
}

// New creates an orchestrator. wordDur tunes the estimator used when the
// vendor returns no timing; zero means alignment.DefaultWordDuration.
func New(vendor synth.Vendor, cacheStore cache.Store, audioStore audiostore.Store,
	wordDur time.Duration, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		vendor:  vendor,
		cache:   cacheStore,
		audio:   audioStore,
		wordDur: wordDur,
		logger:  logger,
	}
}

// Synthesize runs the one-shot path. The cache is consulted once, up front;
// concurrent misses for the same fingerprint may each reach the vendor, and
// the cache insert race decides whose entry survives.
func (o *Orchestrator) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	fp := cache.Fingerprint(req.Text, req.VoiceID)

	entry, err := o.cache.Lookup(ctx, fp)
	if err != nil {
		// A broken cache must not block synthesis; treat as a miss.
		o.logger.Warn("cache lookup failed",
			slog.String("fingerprint", fp),
			slog.String("error", err.Error()))
	}
	if entry != nil {
		o.logger.Debug("cache hit", slog.String("fingerprint", fp))
		return &Result{
			AudioURL:  entry.AudioURL,
			Alignment: entry.Alignment,
			Precise:   entry.Precise,
			Cached:    true,
		}, nil
	}

	vr, err := o.vendor.Synthesize(ctx, synth.Request{
		Text:     req.Text,
		Voice:    req.VoiceID,
		Language: req.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("vendor synthesis: %w", err)
	}

	words, precise := o.align(req.Text, vr.Timing)

	url, err := o.Persist(ctx, req, vr.Audio, words, precise)
	if err != nil {
		// Synthesis succeeded but the audio blob could not be stored, so
		// there is no URL to hand out.
		return nil, err
	}

	return &Result{
		AudioURL:  url,
		Alignment: words,
		Precise:   precise,
		Audio:     vr.Audio,
	}, nil
}

// align translates vendor character timing into word alignment, or falls
// back to the uniform-pace estimate when the vendor supplied none.
func (o *Orchestrator) align(text string, timing *alignment.CharTiming) ([]alignment.Word, bool) {
	if timing.Empty() {
		return alignment.Estimate(text, o.wordDur), false
	}
	return alignment.FromCharTiming(text, *timing), true
}

// Persist writes the audio blob and inserts the cache entry. An audio-store
// failure is returned as ErrPersistence; a cache insert failure (including
// losing the race to another writer) is logged and swallowed, since the
// winning entry is just as good.
func (o *Orchestrator) Persist(ctx context.Context, req Request,
	audio []byte, words []alignment.Word, precise bool) (string, error) {

	fp := cache.Fingerprint(req.Text, req.VoiceID)

	url, err := o.audio.Put(ctx, fmt.Sprintf("%s/%s.mp3", req.VoiceID, fp), audio)
	if err != nil {
		return "", narration.Classify(narration.ErrPersistence, err, "store audio")
	}

	insertErr := o.cache.Insert(ctx, cache.Entry{
		Fingerprint: fp,
		VoiceID:     req.VoiceID,
		Text:        req.Text,
		AudioURL:    url,
		Alignment:   words,
		Precise:     precise,
		ContextID:   req.ContextID,
	})
	switch {
	case insertErr == nil:
	case errors.Is(insertErr, cache.ErrAlreadyExists):
		o.logger.Debug("lost cache insert race", slog.String("fingerprint", fp))
	default:
		o.logger.Warn("cache insert failed",
			slog.String("fingerprint", fp),
			slog.String("error", insertErr.Error()))
	}

	return url, nil
}

// Vendor exposes the configured vendor, for health reporting.
func (o *Orchestrator) Vendor() synth.Vendor { return o.vendor }

// WordDuration exposes the estimator pace so every entry point that
// estimates alignment uses the same one.
func (o *Orchestrator) WordDuration() time.Duration { return o.wordDur }
