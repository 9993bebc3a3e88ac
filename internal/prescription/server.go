package prescription

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// Server handles HTTP requests for prescriptions
type Server struct {
	service   *Service
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials. Without configured
// credentials every request is allowed.
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Rx Tracker"`)
			writeJSONError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Jobs
	s.mux.HandleFunc("GET /api/jobs/{id}/events", s.requireAuth(s.handleJobEvents))
	s.mux.HandleFunc("GET /api/jobs/{id}", s.requireAuth(s.handleGetJob))
	s.mux.HandleFunc("DELETE /api/jobs/{id}", s.requireAuth(s.handleCancelJob))
	s.mux.HandleFunc("POST /api/jobs", s.requireAuth(s.handleSubmitJob))

	// Synchronous processing
	s.mux.HandleFunc("POST /api/prescriptions", s.requireAuth(s.handleProcessPrescription))

	// History
	s.mux.HandleFunc("POST /api/results/{id}/verify", s.requireAuth(s.handleVerifyResult))
	s.mux.HandleFunc("POST /api/results/{id}/reject", s.requireAuth(s.handleRejectResult))
	s.mux.HandleFunc("GET /api/results/{id}", s.requireAuth(s.handleGetResult))
	s.mux.HandleFunc("DELETE /api/results/{id}", s.requireAuth(s.handleDeleteResult))
	s.mux.HandleFunc("GET /api/results", s.requireAuth(s.handleListResults))
	s.mux.HandleFunc("GET /api/stats", s.requireAuth(s.handleStats))

	// Catalog
	s.mux.HandleFunc("GET /api/medicines/{name}", s.requireAuth(s.handleGetMedicine))
	s.mux.HandleFunc("GET /api/medicines", s.requireAuth(s.handleSearchMedicines))
	s.mux.HandleFunc("GET /api/categories", s.requireAuth(s.handleCategories))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux).ServeHTTP(w, r)
}
