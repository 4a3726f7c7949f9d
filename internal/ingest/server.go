package ingest

import (
	"log/slog"
	"net/http"

	"receiptsnap/internal/scanning"
)

// Server handles HTTP requests for receipt ingestion
type Server struct {
	service *Service
	scanner scanning.Scanner // nil when no scanner is configured
	apiKey  string
	mux     *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, scanner scanning.Scanner, apiKey string) *Server {
	return NewServerWithMux(service, scanner, apiKey, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, scanner scanning.Scanner, apiKey string, mux *http.ServeMux) *Server {
	s := &Server{
		service: service,
		scanner: scanner,
		apiKey:  apiKey,
		mux:     mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks the pre-shared key header. When no key is
// configured, every request passes.
func (s *Server) authenticate(r *http.Request) bool {
	if s.apiKey == "" {
		return true
	}
	return r.Header.Get("x-api-key") == s.apiKey
}

// corsMiddleware adds CORS headers to responses. The capture UI is a PWA
// served from a different origin.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireKey middleware
func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			corsError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, x-api-key")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/receipts/scan", s.requireKey(s.handleScan))
	s.mux.HandleFunc("POST /api/receipts", s.requireKey(s.handleSubmit))
	s.mux.HandleFunc("GET /api/submissions", s.requireKey(s.handleListSubmissions))
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
