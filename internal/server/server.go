// Package server exposes the synthesis pipeline over HTTP: a one-shot
// JSON endpoint, a WebSocket streaming endpoint handed to the relay, a
// health probe, and static serving for locally stored audio.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/voicelane/narrator/internal/orchestrator"
	"github.com/voicelane/narrator/internal/relay"
	"github.com/voicelane/narrator/pkg/alignment"
	"github.com/voicelane/narrator/pkg/narration"
)

// Server wires the orchestrator and relay to HTTP routes.
type Server struct {
	orch     *orchestrator.Orchestrator
	relay    *relay.Relay
	audioDir string
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New creates a server. audioDir, when non-empty, is served under /audio/
// for the local-disk audio store; the object-store backend serves its own
// URLs and passes an empty dir.
func New(orch *orchestrator.Orchestrator, rl *relay.Relay, audioDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		orch:     orch,
		relay:    rl,
		audioDir: audioDir,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from app origins unknown ahead of
			// time; auth happens at the gateway in front of this service.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/synthesize", s.handleSynthesize)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	if s.audioDir != "" {
		mux.Handle("GET /audio/", http.StripPrefix("/audio/",
			http.FileServer(http.Dir(s.audioDir))))
	}
	return mux
}

type healthResponse struct {
	Status string `json:"status"`
	Vendor string `json:"vendor"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "online",
		Vendor: s.orch.Vendor().Name(),
	})
}

type synthesizeResponse struct {
	AudioURL  string           `json:"audioUrl"`
	Alignment []alignment.Word `json:"alignment"`
	Precise   bool             `json:"precise"`
	Cached    bool             `json:"cached"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	res, err := s.orch.Synthesize(r.Context(), req)
	if err != nil {
		s.logger.Warn("one-shot synthesis failed",
			slog.String("voice", req.VoiceID),
			slog.String("error", err.Error()))
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, synthesizeResponse{
		AudioURL:  res.AudioURL,
		Alignment: res.Alignment,
		Precise:   res.Precise,
		Cached:    res.Cached,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := newWSClient(conn, s.logger)
	s.relay.Serve(r.Context(), client)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, narration.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, narration.ErrVendorRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, narration.ErrUpstreamUnavailable),
		errors.Is(err, narration.ErrUpstreamProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
