package eleven

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicelane/narrator/pkg/alignment"
	"github.com/voicelane/narrator/pkg/narration"
	"github.com/voicelane/narrator/pkg/synth"
)

// controlFrame is a JSON message on the vendor stream. Audio may arrive
// either as a binary WebSocket message or base64 inside a control frame.
type controlFrame struct {
	Audio     string                `json:"audio,omitempty"`
	Alignment *alignment.CharTiming `json:"alignment,omitempty"`
	IsFinal   bool                  `json:"isFinal,omitempty"`
	Error     string                `json:"error,omitempty"`
}

type stream struct {
	conn        *websocket.Conn
	readTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Recv blocks until the vendor's next frame. A clean close yields io.EOF;
// a read timeout or transport error yields ErrUpstreamUnavailable; a frame
// that cannot be decoded yields ErrUpstreamProtocol.
func (s *stream) Recv() (synth.Frame, error) {
	if s.readTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return synth.Frame{}, narration.Classify(narration.ErrUpstreamUnavailable, err,
				"set read deadline")
		}
	}

	msgType, data, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return synth.Frame{}, io.EOF
		}
		return synth.Frame{}, narration.Classify(narration.ErrUpstreamUnavailable, err,
			"vendor stream read failed")
	}

	switch msgType {
	case websocket.BinaryMessage:
		return synth.Frame{Audio: data}, nil

	case websocket.TextMessage:
		var frame controlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return synth.Frame{}, narration.Classify(narration.ErrUpstreamProtocol, err,
				"malformed vendor control frame")
		}
		if frame.Error != "" {
			return synth.Frame{}, narration.Classify(narration.ErrVendorRejected, nil, frame.Error)
		}

		out := synth.Frame{Final: frame.IsFinal}
		if frame.Audio != "" {
			audio, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				return synth.Frame{}, narration.Classify(narration.ErrUpstreamProtocol, err,
					"malformed vendor audio encoding")
			}
			out.Audio = audio
		}
		if !frame.Alignment.Empty() {
			out.Timing = frame.Alignment
		}
		return out, nil

	default:
		return synth.Frame{}, narration.Classify(narration.ErrUpstreamProtocol, nil,
			"unexpected vendor frame type")
	}
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
