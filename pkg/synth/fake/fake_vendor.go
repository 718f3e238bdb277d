// Package fake provides scripted synth.Vendor and synth.Stream
// implementations for testing the orchestrator and the relay without a
// network.
package fake

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/voicelane/narrator/pkg/synth"
)

// Vendor is a scripted vendor. Configure Result/Err for the one-shot path
// and Frames/StreamErr/OpenErr for the streaming path before use.
type Vendor struct {
	// One-shot behavior.
	Result *synth.Result
	Err    error

	// Streaming behavior: frames delivered in order, then StreamErr or a
	// clean close (io.EOF). OpenErr fails OpenStream itself.
	Frames    []synth.Frame
	StreamErr error
	OpenErr   error

	synthesizeCalls atomic.Int32
	openCalls       atomic.Int32

	mu       sync.Mutex
	requests []synth.Request
}

// NewVendor creates a fake that succeeds with the given one-shot result.
func NewVendor(result *synth.Result) *Vendor {
	return &Vendor{Result: result}
}

func (v *Vendor) Name() string { return "fake" }

// Synthesize returns the scripted result or error and records the request.
func (v *Vendor) Synthesize(ctx context.Context, req synth.Request) (*synth.Result, error) {
	v.synthesizeCalls.Add(1)
	v.mu.Lock()
	v.requests = append(v.requests, req)
	v.mu.Unlock()

	if v.Err != nil {
		return nil, v.Err
	}
	if v.Result == nil {
		return &synth.Result{Audio: []byte("fake-audio")}, nil
	}
	return v.Result, nil
}

// OpenStream returns a stream that replays the scripted frames.
func (v *Vendor) OpenStream(ctx context.Context, req synth.Request) (synth.Stream, error) {
	v.openCalls.Add(1)
	v.mu.Lock()
	v.requests = append(v.requests, req)
	v.mu.Unlock()

	if v.OpenErr != nil {
		return nil, v.OpenErr
	}
	return &Stream{frames: v.Frames, err: v.StreamErr}, nil
}

// SynthesizeCalls reports how many one-shot calls were made.
func (v *Vendor) SynthesizeCalls() int { return int(v.synthesizeCalls.Load()) }

// OpenCalls reports how many streams were opened.
func (v *Vendor) OpenCalls() int { return int(v.openCalls.Load()) }

// Requests returns a copy of every request seen, in order.
func (v *Vendor) Requests() []synth.Request {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]synth.Request(nil), v.requests...)
}

// Stream replays scripted frames, then returns the scripted error or io.EOF.
type Stream struct {
	mu     sync.Mutex
	frames []synth.Frame
	err    error
	next   int
	closed bool
}

func (s *Stream) Recv() (synth.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return synth.Frame{}, io.EOF
	}
	if s.next < len(s.frames) {
		f := s.frames[s.next]
		s.next++
		return f, nil
	}
	if s.err != nil {
		return synth.Frame{}, s.err
	}
	return synth.Frame{}, io.EOF
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ synth.StreamVendor = (*Vendor)(nil)
