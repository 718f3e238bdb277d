// Package relay manages live synthesis sessions: it pairs a client channel
// with an upstream vendor stream, forwards audio and alignment to the
// client as they arrive, and falls back to one-shot synthesis when the
// stream fails. Session behavior is an explicit state machine so every
// transition and its side effects are testable without transport mechanics.
package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voicelane/narrator/internal/orchestrator"
	"github.com/voicelane/narrator/pkg/alignment"
	"github.com/voicelane/narrator/pkg/narration"
	"github.com/voicelane/narrator/pkg/synth"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultFrameTimeout   = 30 * time.Second
)

// Relay creates sessions. Safe for concurrent use; each Serve call runs an
// independent session.
type Relay struct {
	vendor         synth.StreamVendor
	orch           *orchestrator.Orchestrator
	connectTimeout time.Duration
	frameTimeout   time.Duration
	logger         *slog.Logger
}

// New creates a relay. The orchestrator supplies both fallback synthesis
// and persistence of successfully streamed audio.
func New(vendor synth.StreamVendor, orch *orchestrator.Orchestrator,
	connectTimeout, frameTimeout time.Duration, logger *slog.Logger) *Relay {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	if frameTimeout <= 0 {
		frameTimeout = defaultFrameTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		vendor:         vendor,
		orch:           orch,
		connectTimeout: connectTimeout,
		frameTimeout:   frameTimeout,
		logger:         logger,
	}
}

// Serve runs one complete session on the client connection and returns the
// terminal state. The client always receives a terminal message (complete
// or error) unless it disconnected first.
func (r *Relay) Serve(ctx context.Context, client ClientConn) State {
	id := uuid.NewString()
	s := &session{
		relay:  r,
		client: client,
		id:     id,
		state:  StateIdle,
		logger: r.logger.With(slog.String("session", id)),
	}
	defer client.Close()
	return s.run(ctx)
}

type session struct {
	relay  *Relay
	client ClientConn
	id     string
	state  State
	logger *slog.Logger

	req        *StreamRequest
	chunks     [][]byte
	words      []alignment.Word
	precise    bool
	sentWords  bool
	clientGone atomic.Bool
}

func (s *session) transition(next State) {
	s.logger.Debug("session transition",
		slog.String("from", s.state.String()),
		slog.String("to", next.String()))
	s.state = next
}

func (s *session) run(ctx context.Context) State {
	// Client disconnect cancels the session from any state.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.client.Done():
			s.clientGone.Store(true)
			cancel()
		case <-ctx.Done():
		}
	}()

	// The opening request gets the same bounded wait as upstream frames;
	// a silent client must not hold a session open forever.
	reqCtx, reqCancel := context.WithTimeout(ctx, s.relay.frameTimeout)
	req, err := s.client.ReadRequest(reqCtx)
	reqCancel()
	if err != nil {
		s.logger.Debug("no usable opening request", slog.String("error", err.Error()))
		// Still a terminal message for a connected-but-silent or
		// garbled client; suppressed automatically if it already left.
		s.sendError(narration.Classify(narration.ErrInvalidRequest, err,
			"expected a synthesis request"))
		s.transition(StateClosed)
		return s.state
	}
	s.req = req

	if err := s.orchReq().Validate(); err != nil {
		s.sendError(err)
		s.transition(StateClosed)
		return s.state
	}

	s.transition(StateConnecting)
	stream, err := s.openStream(ctx)
	if err != nil {
		s.logger.Warn("upstream connect failed", slog.String("error", err.Error()))
		return s.fallBack(ctx)
	}

	s.transition(StateStreaming)
	streamErr := s.pump(ctx, stream)
	stream.Close()

	switch {
	case streamErr == nil:
		return s.complete(ctx)
	case ctx.Err() != nil && s.clientGone.Load():
		// Client hung up; closing upstream is the only cleanup needed.
		s.transition(StateClosed)
		return s.state
	default:
		s.logger.Warn("upstream stream failed", slog.String("error", streamErr.Error()))
		return s.fallBack(ctx)
	}
}

func (s *session) orchReq() orchestrator.Request {
	return orchestrator.Request{
		Text:      s.req.Text,
		VoiceID:   s.req.VoiceID,
		Language:  s.req.Language,
		ContextID: s.req.ContextID,
	}
}

func (s *session) openStream(ctx context.Context) (synth.Stream, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.relay.connectTimeout)
	defer cancel()
	return s.relay.vendor.OpenStream(dialCtx, synth.Request{
		Text:     s.req.Text,
		Voice:    s.req.VoiceID,
		Language: s.req.Language,
	})
}

// pump forwards upstream frames to the client until the vendor closes the
// stream (nil return) or fails (non-nil). Frame reads are bounded by the
// relay's frame timeout regardless of the vendor client's own deadlines.
func (s *session) pump(ctx context.Context, stream synth.Stream) error {
	type recvResult struct {
		frame synth.Frame
		err   error
	}
	frames := make(chan recvResult)
	go func() {
		for {
			frame, err := stream.Recv()
			select {
			case frames <- recvResult{frame, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(s.relay.frameTimeout)
	defer timer.Stop()

	for {
		timer.Reset(s.relay.frameTimeout)
		select {
		case <-ctx.Done():
			// Close the stream so the reader goroutine unblocks.
			stream.Close()
			return ctx.Err()
		case <-timer.C:
			stream.Close()
			return narration.Classify(narration.ErrUpstreamUnavailable, nil,
				"upstream frame timeout")
		case res := <-frames:
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					return nil
				}
				return res.err
			}
			s.handleFrame(res.frame)
		}
	}
}

func (s *session) handleFrame(frame synth.Frame) {
	if len(frame.Audio) > 0 {
		s.chunks = append(s.chunks, frame.Audio)
		s.send(Message{
			Type: MessageTypeAudio,
			Data: base64.StdEncoding.EncodeToString(frame.Audio),
		})
	}
	if !frame.Timing.Empty() && !s.sentWords {
		s.words = alignment.FromCharTiming(s.req.Text, *frame.Timing)
		s.precise = true
		s.sentWords = true
		s.send(Message{Type: MessageTypeAlignment, Words: s.words})
	}
	if frame.Final {
		// Informational only; the stream closing is the authoritative
		// end-of-session signal.
		s.logger.Debug("vendor reported final frame")
	}
}

// complete persists the accumulated audio and sends the terminal message.
func (s *session) complete(ctx context.Context) State {
	s.transition(StateCompleting)

	if !s.sentWords {
		s.words = alignment.Estimate(s.req.Text, s.relay.orch.WordDuration())
		s.precise = false
	}
	audio := bytes.Join(s.chunks, nil)

	// Persistence outlives a departing client: a future cache hit still
	// benefits from this session's work.
	url, err := s.relay.orch.Persist(context.WithoutCancel(ctx), s.orchReq(),
		audio, s.words, s.precise)
	if err != nil {
		// The client already holds the audio; a storage failure must not
		// turn a delivered narration into an error.
		s.logger.Error("persist streamed audio failed", slog.String("error", err.Error()))
	}

	s.send(Message{
		Type:      MessageTypeComplete,
		AudioURL:  url,
		Alignment: s.words,
		Precise:   s.precise,
	})
	s.transition(StateClosed)
	return s.state
}

// fallBack discards any partial streamed audio and retries once via the
// one-shot path. Its outcome is shaped exactly like a streaming success.
func (s *session) fallBack(ctx context.Context) State {
	s.transition(StateFallingBack)

	// Partial vendor audio is not assumed decodable on its own.
	s.chunks = nil

	// The one-shot call is not cancelled by a client disconnect.
	res, err := s.relay.orch.Synthesize(context.WithoutCancel(ctx), s.orchReq())
	if err != nil {
		s.logger.Error("fallback synthesis failed", slog.String("error", err.Error()))
		s.transition(StateErrored)
		s.sendError(err)
		return s.state
	}

	if len(res.Audio) > 0 {
		s.send(Message{
			Type: MessageTypeAudio,
			Data: base64.StdEncoding.EncodeToString(res.Audio),
		})
	}
	s.send(Message{
		Type:      MessageTypeComplete,
		AudioURL:  res.AudioURL,
		Alignment: res.Alignment,
		Precise:   res.Precise,
	})
	s.transition(StateClosed)
	return s.state
}

func (s *session) send(msg Message) {
	if s.clientGone.Load() {
		return
	}
	if err := s.client.Send(msg); err != nil {
		s.clientGone.Store(true)
		s.logger.Debug("client send failed", slog.String("error", err.Error()))
	}
}

func (s *session) sendError(err error) {
	s.send(Message{Type: MessageTypeError, Error: err.Error()})
}
