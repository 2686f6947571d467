package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"golang.org/x/sync/semaphore"

	"github.com/taskmcp/tasksvr/internal/aids"
	"github.com/taskmcp/tasksvr/internal/audit"
	"github.com/taskmcp/tasksvr/internal/config"
	"github.com/taskmcp/tasksvr/internal/metrics"
	"github.com/taskmcp/tasksvr/mcp"
)

const (
	healthPath     = "/mcp/health"
	apiKeyHeader   = "X-API-Key"
	sessionHeader  = "Mcp-Session-Id"
	maxRPCBodySize = 10 << 20 // matches the STDIO frame limit
)

// HTTPConfig carries everything the HTTP transport needs. Scalars are
// pre-extracted from the environment config so tests can build a server
// without touching the process environment.
type HTTPConfig struct {
	Port               int
	Keys               []config.APIKeyEntry
	AuthDisabled       bool
	CORSEnabled        bool
	CORSAllowedOrigins []string

	HeartbeatInterval time.Duration // SSE heartbeat cadence
	StreamTimeout     time.Duration // SSE stream lifetime cap
	MaxStreams        int           // concurrent SSE streams before 503

	Dispatcher *Dispatcher
	Hub        *Hub
	Audit      *audit.Log
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// HTTPServer is the multi-session transport: JSON-RPC over POST /mcp, SSE
// push over GET /mcp, all behind the API-key gate.
type HTTPServer struct {
	cfg     HTTPConfig
	streams *semaphore.Weighted
}

func NewHTTPServer(cfg HTTPConfig) *HTTPServer {
	aids.Assert(cfg.Dispatcher != nil, "HTTP transport needs a dispatcher")
	aids.Assert(cfg.Hub != nil, "HTTP transport needs the session hub")
	aids.Assert(cfg.AuthDisabled || len(cfg.Keys) > 0, "HTTP transport needs API keys unless auth is disabled")
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 5 * time.Minute
	}
	if cfg.MaxStreams <= 0 {
		cfg.MaxStreams = 100
	}
	if cfg.CORSEnabled && slices.Contains(cfg.CORSAllowedOrigins, "*") {
		cfg.Logger.Warn("CORS allows every origin; credentials are disabled for this mode")
	}
	return &HTTPServer{cfg: cfg, streams: semaphore.NewWeighted(int64(cfg.MaxStreams))}
}

// Router builds the full route tree. Everything under /mcp gets the security
// headers and the API-key gate; /metrics lives outside both.
func (s *HTTPServer) Router() http.Handler {
	r := chi.NewRouter()
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())
	}
	r.Route("/mcp", func(r chi.Router) {
		r.Use(securityHeaders)
		if s.cfg.CORSEnabled {
			r.Use(cors.Handler(s.corsOptions()))
		}
		r.Use(s.requireAPIKey)
		r.Get("/health", s.handleHealth)
		r.Post("/", s.handleRPC)
		r.Get("/", s.handleStream)
		r.Delete("/", s.handleCloseSession)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.cfg.Logger.Info("HTTP transport listening", slog.Int("port", s.cfg.Port))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Cache-Control", "no-store")
		h.Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) corsOptions() cors.Options {
	wildcard := slices.Contains(s.cfg.CORSAllowedOrigins, "*")
	return cors.Options{
		AllowedOrigins:   s.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", apiKeyHeader, sessionHeader},
		AllowCredentials: !wildcard,
		MaxAge:           300,
	}
}

// requireAPIKey gates every /mcp route except the exact health path. The
// exemption is an exact match so nested paths like /mcp/evil/health stay
// behind the gate.
func (s *HTTPServer) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthDisabled || r.URL.Path == healthPath {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			s.cfg.Audit.Emit(r.Context(), audit.Event{
				EventType:    audit.EventAuthFailure,
				Success:      false,
				Description:  "API key missing",
				ErrorMessage: "Missing API key",
				Metadata:     map[string]string{"path": r.URL.Path},
			})
			s.unauthorized(w, "Missing API key")
			return
		}
		entry, ok := s.matchKey(key)
		if !ok {
			digest := keyDigest(key)
			s.cfg.Logger.LogAttrs(r.Context(), slog.LevelWarn, "rejected API key",
				slog.String("keyDigest", digest), slog.String("path", r.URL.Path))
			s.cfg.Audit.Emit(r.Context(), audit.Event{
				EventType:    audit.EventAuthFailure,
				Success:      false,
				Description:  "API key rejected",
				ErrorMessage: "Invalid API key",
				Metadata:     map[string]string{"path": r.URL.Path, "keyDigest": digest},
			})
			s.unauthorized(w, "Invalid API key")
			return
		}
		s.cfg.Audit.Emit(r.Context(), audit.Event{
			EventType:   audit.EventAuthSuccess,
			Success:     true,
			Description: "API key accepted",
			Metadata:    map[string]string{"path": r.URL.Path, "keyName": entry.Name},
		})
		next.ServeHTTP(w, r)
	})
}

// matchKey compares the presented key against every configured entry in
// constant time, without early exit.
func (s *HTTPServer) matchKey(presented string) (config.APIKeyEntry, bool) {
	raw := []byte(presented)
	var found config.APIKeyEntry
	ok := false
	for _, e := range s.cfg.Keys {
		if subtle.ConstantTimeCompare(raw, []byte(e.Key)) == 1 {
			found, ok = e, true
		}
	}
	return found, ok
}

// keyDigest is the only form of a presented key that may reach the logs.
func keyDigest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

func (s *HTTPServer) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "ApiKey")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write(aids.MustMarshal(mcp.NewError(nil, mcp.AuthRequired, message)))
}

func (s *HTTPServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRPCBodySize))
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write(aids.MustMarshal(mcp.NewError(nil, mcp.ParseError, "Parse error")))
		return
	}
	res := s.cfg.Dispatcher.Dispatch(r.Context(), body)
	if res == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(res)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"UP","transport":"http"}`))
}

func (s *HTTPServer) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionHeader)
	if id == "" {
		http.Error(w, "Mcp-Session-Id header required", http.StatusBadRequest)
		return
	}
	if !s.cfg.Hub.CloseSession(id) {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	s.cfg.Logger.LogAttrs(r.Context(), slog.LevelDebug, "session closed by client", slog.String("sessionId", id))
	w.WriteHeader(http.StatusNoContent)
}
