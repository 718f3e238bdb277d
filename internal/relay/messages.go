package relay

import (
	"context"

	"github.com/voicelane/narrator/pkg/alignment"
)

// StreamRequest is the client's opening message on a streaming session.
type StreamRequest struct {
	Text      string `json:"text"`
	VoiceID   string `json:"voiceId"`
	Language  string `json:"language,omitempty"`
	ContextID string `json:"contextId,omitempty"`
}

// Message types sent to the client.
const (
	MessageTypeAudio     = "audio"
	MessageTypeAlignment = "alignment"
	MessageTypeComplete  = "complete"
	MessageTypeError     = "error"
)

// Message is one server-to-client protocol message. Exactly one terminal
// message (complete or error) ends every session.
type Message struct {
	Type string `json:"type"`

	// audio
	Data string `json:"data,omitempty"`

	// alignment
	Words []alignment.Word `json:"words,omitempty"`

	// complete
	AudioURL  string           `json:"audioUrl,omitempty"`
	Alignment []alignment.Word `json:"alignment,omitempty"`
	Precise   bool             `json:"precise,omitempty"`

	// error
	Error string `json:"message,omitempty"`
}

// ClientConn abstracts the client side of a session so the relay can be
// driven by a WebSocket connection in production and a scripted double in
// tests.
type ClientConn interface {
	// ReadRequest blocks for the client's opening message.
	ReadRequest(ctx context.Context) (*StreamRequest, error)

	// Send writes one protocol message to the client.
	Send(msg Message) error

	// Done is closed when the client disconnects.
	Done() <-chan struct{}

	// Close closes the client channel. Safe to call more than once.
	Close() error
}

// State enumerates the session state machine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateCompleting
	StateFallingBack
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateCompleting:
		return "completing"
	case StateFallingBack:
		return "falling_back"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}
