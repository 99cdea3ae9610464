package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Page routes. Every other path is a plain 404.
	mux.HandleFunc("/", s.handlePage)
	mux.HandleFunc("/status", s.handleStatus)

	return mux
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		notFound(w)
		return
	}

	// Any method gets the page, like a plain static file server
	s.servePage(w, r)
}

func (s *Server) servePage(w http.ResponseWriter, r *http.Request) {
	data, err := s.loader()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read page")
		notFound(w)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}

// handleStatus answers readiness probes
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) {
			s.mu.Lock()
			uptime := time.Since(s.started)
			s.mu.Unlock()

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "ok",
				"uptime": uptime.Round(time.Second).String(),
			})
		},
	})
}

func notFound(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("Not found"))
}
