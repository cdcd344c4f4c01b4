package http

import (
	"net/http"
)

// Server exposes the read-only polling surface. Every route returns a
// snapshot; nothing here blocks on an in-flight extraction.
type Server struct {
	mux      *http.ServeMux
	handlers *Handlers
}

func NewServer(frames FrameReader, status StatusReader, history HistoryReader) *Server {
	mux := http.NewServeMux()
	handlers := NewHandlers(frames, status, history)

	s := &Server{
		mux:      mux,
		handlers: handlers,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /frame", s.handlers.Frame())
	s.mux.HandleFunc("GET /sync", s.handlers.Sync())
	s.mux.HandleFunc("GET /health", s.handlers.Health())
	s.mux.HandleFunc("GET /stats", s.handlers.Stats())
	s.mux.HandleFunc("GET /history", s.handlers.History())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
