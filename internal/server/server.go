// Package server serves the lookup page over HTTP for the browser driver and
// the serve command.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/cohortprobe/internal/common"
)

// PageLoader returns the page markup. It is called on every request so edits
// to the page file are picked up without a restart.
type PageLoader func() ([]byte, error)

// FileLoader reads the page from path, applying transform when set
func FileLoader(path string, transform func(string) string) PageLoader {
	return func() ([]byte, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if transform == nil {
			return data, nil
		}
		return []byte(transform(string(data))), nil
	}
}

// Server manages the HTTP server and routes
type Server struct {
	host   string
	port   int
	loader PageLoader
	logger arbor.ILogger

	router *http.ServeMux
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
	served   chan error
	started  time.Time
}

// New creates a page server. Port 0 picks a free port on Start.
func New(host string, port int, loader PageLoader, logger arbor.ILogger) *Server {
	s := &Server{
		host:   host,
		port:   port,
		loader: loader,
		logger: logger,
	}

	s.router = s.setupRoutes()
	s.server = &http.Server{
		Handler:      s.withMiddleware(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start binds the listener and serves in the background. It returns the base
// URL, e.g. http://localhost:8080/.
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return "", fmt.Errorf("server already started")
	}

	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.served = make(chan error, 1)
	s.started = time.Now()

	served := s.served
	common.SafeGo(s.logger, "page server", func() {
		defer close(served)
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Page server failed")
			served <- err
		}
	})

	baseURL := s.baseURL()
	s.logger.Info().
		Str("address", listener.Addr().String()).
		Str("url", baseURL).
		Msg("Page server started")

	return baseURL, nil
}

// URL returns the base URL once started
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.baseURL()
}

func (s *Server) baseURL() string {
	host := s.host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	port := s.listener.Addr().(*net.TCPAddr).Port
	return fmt.Sprintf("http://%s/", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
}

// Done is closed when the server stops serving. A value is sent first if it
// failed.
func (s *Server) Done() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.listener != nil
	s.mu.Unlock()
	if !started {
		return nil
	}

	s.logger.Debug().Msg("Shutting down page server...")

	if err := s.server.Shutdown(ctx); err != nil {
		_ = s.server.Close()
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Debug().Msg("Page server stopped")
	return nil
}
