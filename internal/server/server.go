package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taskmcp/tasksvr/internal/aids"
	"github.com/taskmcp/tasksvr/internal/audit"
	"github.com/taskmcp/tasksvr/internal/batch"
)

// Config wires the composed server: the transports selected by the mode plus
// the shared components that outlive them.
type Config struct {
	Stdio *StdioServer // nil when the mode excludes it
	HTTP  *HTTPServer  // nil when the mode excludes it

	Hub    *Hub
	Engine *batch.Engine
	Pool   *batch.Pool
	Audit  *audit.Log
	Logger *slog.Logger

	DrainTimeout time.Duration // pool drain cap during shutdown
}

type Server struct {
	cfg Config
}

func New(cfg Config) *Server {
	aids.Assert(cfg.Stdio != nil || cfg.HTTP != nil, "at least one transport must be configured")
	aids.Assert(cfg.Hub != nil, "server needs the session hub")
	aids.Assert(cfg.Engine != nil, "server needs the batch engine")
	aids.Assert(cfg.Pool != nil, "server needs the worker pool")
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	return &Server{cfg: cfg}
}

// Run recovers orphaned jobs, starts the configured transports, and blocks
// until a transport fails or the process receives SIGINT/SIGTERM. Shutdown
// closes the push sessions first, then drains the worker pool.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Jobs from a previous process must reach a terminal state before any
	// client can observe them through a transport.
	if _, err := s.cfg.Engine.RecoverOrphans(ctx); err != nil {
		return fmt.Errorf("recover orphaned jobs: %w", err)
	}

	s.cfg.Audit.Emit(ctx, audit.Event{
		EventType:   audit.EventServerStarted,
		Success:     true,
		Description: "Server started",
		Metadata: map[string]string{
			"stdio": strconv.FormatBool(s.cfg.Stdio != nil),
			"http":  strconv.FormatBool(s.cfg.HTTP != nil),
		},
	})
	s.cfg.Logger.LogAttrs(ctx, slog.LevelInfo, "server started",
		slog.Bool("stdio", s.cfg.Stdio != nil), slog.Bool("http", s.cfg.HTTP != nil))

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.Stdio != nil {
		g.Go(func() error { return s.cfg.Stdio.Run(gctx) })
	}
	if s.cfg.HTTP != nil {
		g.Go(func() error { return s.cfg.HTTP.Run(gctx) })
	}
	runErr := g.Wait()

	s.cfg.Hub.Shutdown()
	drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
	defer cancel()
	if err := s.cfg.Pool.Shutdown(drainCtx); err != nil {
		s.cfg.Logger.LogAttrs(ctx, slog.LevelWarn, "worker pool did not drain in time",
			slog.String("error", err.Error()))
	}

	s.cfg.Audit.Emit(ctx, audit.Event{
		EventType:   audit.EventServerStopped,
		Success:     true,
		Description: "Server stopped",
	})
	s.cfg.Logger.LogAttrs(ctx, slog.LevelInfo, "server stopped")
	return runErr
}
