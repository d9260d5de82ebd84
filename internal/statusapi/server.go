// Package statusapi exposes the running hub over HTTP.
package statusapi

import (
	"encoding/json"
	"net/http"

	"broadcast-hub/internal/channel"
	"broadcast-hub/internal/hub"
	"broadcast-hub/internal/metrics"
)

// Hub is the part of a running hub handle the API reads.
type Hub interface {
	ID() string
	Units() []hub.UnitStatus
	Registry() *channel.Registry
	Done() <-chan struct{}
}

type Server struct {
	hub     Hub
	feed    *Feed
	metrics *metrics.Metrics
}

func NewServer(h Hub, feed *Feed, m *metrics.Metrics) *Server {
	return &Server{hub: h, feed: feed, metrics: m}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/hub/units", s.handleUnits)
	mux.HandleFunc("/api/hub/channels", s.handleChannels)
	mux.HandleFunc("/api/hub/stream", s.handleStream)
	mux.Handle("/metrics", s.metrics.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "hub unavailable")
		return
	}
	select {
	case <-s.hub.Done():
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "stopped", "run": s.hub.ID()})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "run": s.hub.ID()})
	}
}

func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "hub unavailable")
		return
	}
	if r.Method == http.MethodOptions {
		writeNoContent(w)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": s.hub.ID(), "units": s.hub.Units()})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "hub unavailable")
		return
	}
	if r.Method == http.MethodOptions {
		writeNoContent(w)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	reg := s.hub.Registry()
	writeJSON(w, http.StatusOK, map[string]any{
		"heartbeat_topic": channel.HeartbeatTopic,
		"bind":            reg.BindEndpoint(),
		"connect":         reg.ConnectEndpoint(),
		"channels":        reg.Routes(),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	want := r.URL.Query().Get("channel")
	ch, cancel := s.feed.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var done <-chan struct{}
	if s.hub != nil {
		done = s.hub.Done()
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case e := <-ch:
			if want != "" && e.Channel != want {
				continue
			}
			b, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: message\ndata: " + string(b) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeNoContent(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}
