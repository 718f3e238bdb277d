// Package synth abstracts the upstream voice-synthesis vendor. A Vendor
// performs one-shot synthesis; a StreamVendor additionally supports a live
// duplex session that emits audio and timing frames incrementally.
package synth

import (
	"context"

	"github.com/voicelane/narrator/pkg/alignment"
)

// Request carries one synthesis job to the vendor.
type Request struct {
	Text     string
	Voice    string
	Language string
}

// Result is a complete vendor response: the full audio buffer plus
// character timing when the vendor provides it. Timing is nil when the
// vendor returned audio only; callers estimate alignment in that case.
type Result struct {
	Audio  []byte
	Timing *alignment.CharTiming
}

// Frame is one message from a streaming session. Exactly one of the
// payload fields is meaningful per frame: Audio for binary audio chunks,
// Timing for character-timing control frames. Final marks the vendor's
// "synthesis complete" control frame; the authoritative end of the stream
// is still the stream closing (io.EOF from Recv).
type Frame struct {
	Audio  []byte
	Timing *alignment.CharTiming
	Final  bool
}

// Stream is a live vendor session. Recv blocks until the next frame,
// returning io.EOF on clean vendor close and an error otherwise. Close
// releases the underlying connection and is safe to call more than once.
type Stream interface {
	Recv() (Frame, error)
	Close() error
}

// Vendor is a one-shot synthesis backend.
type Vendor interface {
	// Synthesize sends the full text and returns the complete audio
	// buffer, with inline character timing when the backend supports it.
	Synthesize(ctx context.Context, req Request) (*Result, error)

	// Name identifies the backend in logs.
	Name() string
}

// StreamVendor is a backend that can open a live streaming session.
type StreamVendor interface {
	Vendor

	// OpenStream opens a duplex session, sends the text to synthesize
	// and returns the inbound frame stream.
	OpenStream(ctx context.Context, req Request) (Stream, error)
}
