package server

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/taskmcp/tasksvr/internal/aids"
)

// StdioConfig carries the single-peer transport dependencies. In and Out
// default to the process streams; tests swap in buffers.
type StdioConfig struct {
	Dispatcher *Dispatcher
	Hub        *Hub
	Logger     *slog.Logger
	In         io.Reader
	Out        io.Writer
}

// StdioServer is the line-framed transport: one JSON-RPC message per line on
// stdin, one response or notification per line on stdout. No authentication;
// the peer is the process that started us.
type StdioServer struct {
	cfg StdioConfig

	mu sync.Mutex // serialises Out between responses and push frames
}

func NewStdioServer(cfg StdioConfig) *StdioServer {
	aids.Assert(cfg.Dispatcher != nil, "STDIO transport needs a dispatcher")
	aids.Assert(cfg.Hub != nil, "STDIO transport needs the session hub")
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &StdioServer{cfg: cfg}
}

// Run reads frames until EOF or ctx cancel. The hub session it registers
// carries server-initiated notifications to the peer; named stream events
// are SSE-only and skipped here.
func (s *StdioServer) Run(ctx context.Context) error {
	sess := s.cfg.Hub.Register()
	defer s.cfg.Hub.CloseSession(sess.ID)

	go s.pushPump(ctx, sess)

	scanner := bufio.NewScanner(s.cfg.In)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRPCBodySize)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := bytes.Clone(bytes.TrimSpace(scanner.Bytes()))
			if len(line) == 0 {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	s.cfg.Logger.Info("STDIO transport ready")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						s.cfg.Logger.LogAttrs(ctx, slog.LevelError, "stdin read failed",
							slog.String("error", err.Error()))
						return err
					}
				default:
				}
				s.cfg.Logger.Info("stdin closed, STDIO transport stopping")
				return nil
			}
			res := s.cfg.Dispatcher.Dispatch(ctx, line)
			if res == nil {
				continue
			}
			if err := s.writeLine(res); err != nil {
				return err
			}
		}
	}
}

// pushPump forwards JSON-RPC push frames to the peer.
func (s *StdioServer) pushPump(ctx context.Context, sess *Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case ev := <-sess.Events():
			if ev.Name != "" {
				continue
			}
			if err := s.writeLine(ev.Data); err != nil {
				s.cfg.Logger.LogAttrs(ctx, slog.LevelDebug, "dropping push frame, stdout write failed",
					slog.String("error", err.Error()))
			}
		}
	}
}

func (s *StdioServer) writeLine(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.cfg.Out.Write(data); err != nil {
		return err
	}
	_, err := s.cfg.Out.Write([]byte{'\n'})
	return err
}
