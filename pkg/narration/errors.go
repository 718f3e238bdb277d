// Package narration provides the shared error taxonomy for the synthesis
// pipeline. Every failure surfaced by the orchestrator, the relay, or a
// vendor client is classified as one of the sentinel errors below so that
// callers can branch with errors.Is without knowing which layer failed.
package narration

import "errors"

var (
	// ErrInvalidRequest indicates a request missing required fields
	// (text or voice). Terminal: no retry, no fallback, the vendor is
	// never contacted.
	ErrInvalidRequest = errors.New("invalid synthesis request")

	// ErrUpstreamUnavailable indicates the vendor could not be reached:
	// connect failure, handshake timeout, or a frame-read timeout.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamProtocol indicates the vendor sent a malformed or
	// unexpected frame.
	ErrUpstreamProtocol = errors.New("upstream protocol error")

	// ErrPersistence indicates an audio-store or cache-store write
	// failure. After a successful synthesis this is logged, not
	// surfaced: the caller still gets audio and alignment.
	ErrPersistence = errors.New("persistence failure")

	// ErrVendorRejected indicates an application-level rejection from
	// the vendor, e.g. an unknown voice id.
	ErrVendorRejected = errors.New("vendor rejected request")
)

// Error wraps an underlying failure with its taxonomy classification.
type Error struct {
	Kind       error
	Underlying error
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Underlying != nil {
		return e.Underlying.Error()
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() error { return e.Kind }

// Classify wraps err under the given sentinel kind.
func Classify(kind, err error, message string) error {
	return &Error{Kind: kind, Underlying: err, Message: message}
}

// IsInvalidRequest reports whether err is a request-validation failure.
func IsInvalidRequest(err error) bool { return errors.Is(err, ErrInvalidRequest) }

// Fallbackable reports whether a streaming-path error should trigger the
// one-shot fallback attempt. Invalid requests and vendor rejections are
// terminal; connectivity and protocol failures are not.
func Fallbackable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrUpstreamProtocol)
}
