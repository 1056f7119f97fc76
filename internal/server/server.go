// Package server exposes search and indexing over a line-delimited JSON
// protocol on TCP. Each line is a Command and gets exactly one Response
// line back, in order. Connections are independent; a malformed line is
// answered with an error and the connection stays open.
package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/codesearch/internal/config"
	"github.com/Aman-CERP/codesearch/internal/embed"
	"github.com/Aman-CERP/codesearch/internal/errors"
	"github.com/Aman-CERP/codesearch/internal/lsp"
	"github.com/Aman-CERP/codesearch/internal/scanner"
	"github.com/Aman-CERP/codesearch/internal/search"
	"github.com/Aman-CERP/codesearch/internal/semantic"
	"github.com/Aman-CERP/codesearch/internal/symbols"
	"github.com/Aman-CERP/codesearch/internal/telemetry"
)

// maxLineSize bounds a single command line.
const maxLineSize = 16 << 20

const readBufferSize = 64 << 10

// embedCacheSize is the number of cached query and chunk embeddings.
const embedCacheSize = 4096

// Options configures a Server.
type Options struct {
	Config *config.Config
	Logger *slog.Logger
	// Metrics records served requests; nil disables telemetry.
	Metrics *telemetry.Metrics
	// LSPFactory overrides how language server clients are created.
	LSPFactory lsp.Factory
}

// Server serves the request protocol.
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	scanner   *scanner.Scanner
	extractor *symbols.Extractor
	semantic  *semantic.Engine
	search    *search.Engine
	state     *state
	started   time.Time

	lspFactory lsp.Factory
	lspMu      sync.Mutex
	lsps       map[string]*lsp.Manager // by absolute root

	conns atomic.Int64

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	shutdown bool
	wg       sync.WaitGroup
}

// New creates a server. It does not listen until Serve or ListenAndServe.
func New(opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sc, err := scanner.New()
	if err != nil {
		return nil, errors.InternalError("create scanner", err)
	}
	ex := symbols.NewExtractor()
	scan := cfg.ScanOptions("")

	emb := embed.NewCachedEmbedder(embed.NewStaticEmbedder(), embedCacheSize)
	sem := semantic.New(semantic.Config{
		RRFConstant:    cfg.Search.RRFConstant,
		KeywordWeight:  cfg.Search.BM25Weight,
		SemanticWeight: cfg.Search.SemanticWeight,
	}, emb, sc, scan, logger)

	eng := search.New(sc, ex, sem, search.Options{
		Scan:           scan,
		Workers:        cfg.Index.Workers,
		FuzzyThreshold: cfg.Search.FuzzyThreshold,
		Logger:         logger,
	})

	return &Server{
		cfg:        cfg,
		logger:     logger,
		metrics:    opts.Metrics,
		scanner:    sc,
		extractor:  ex,
		semantic:   sem,
		search:     eng,
		state:      newState(),
		started:    time.Now(),
		lspFactory: opts.LSPFactory,
		lsps:       make(map[string]*lsp.Manager),
	}, nil
}

// ListenAndServe listens on addr (config server.addr when empty) and
// serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = s.cfg.Server.Addr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.New(errors.ErrCodeConnection, fmt.Sprintf("listen on %s", addr), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or Close is
// called, then waits for open connections to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	s.logger.Info("server listening", slog.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isShutdown() {
				break
			}
			s.logger.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return nil
}

// Addr returns the listen address once serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// handleConnection answers every line on conn in order until the peer
// closes or the server shuts down.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	s.conns.Add(1)
	defer s.conns.Add(-1)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	s.logger.Debug("connection opened", slog.String("remote", remote))

	// Unblock the reader on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	reader := bufio.NewReaderSize(conn, readBufferSize)
	writer := bufio.NewWriter(conn)

	for {
		line, err := readLine(reader, maxLineSize)
		var resp Response
		switch {
		case err == errLineTooLong:
			resp = NewErrorResponse("", errLineTooLong)
		case err != nil:
			if err != io.EOF && ctx.Err() == nil {
				s.logger.Debug("read failed", slog.String("remote", remote), slog.String("error", err.Error()))
			}
			s.logger.Debug("connection closed", slog.String("remote", remote))
			return
		case len(line) == 0:
			continue
		default:
			resp = s.HandleLine(ctx, line)
		}
		if err := writeResponse(writer, resp); err != nil {
			s.logger.Debug("write failed", slog.String("remote", remote), slog.String("error", err.Error()))
			return
		}
	}
}

var errLineTooLong = errors.New(errors.ErrCodeInvalidCommand, "invalid command: line too long", nil)

// readLine returns the next line without its line ending. A line longer
// than limit is read through its newline, dropped and reported as
// errLineTooLong so the connection stays usable.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit+1 {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err == io.EOF && len(line) > 0:
			// final line without a newline
		case err != nil:
			if tooLong {
				return nil, errLineTooLong
			}
			return nil, err
		}
		if tooLong {
			return nil, errLineTooLong
		}
		line = bytes.TrimSuffix(line, []byte("\n"))
		return bytes.TrimSuffix(line, []byte("\r")), nil
	}
}

func writeResponse(w *bufio.Writer, resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		b, _ = json.Marshal(NewErrorResponse(resp.ID, errors.InternalError("encode response", err)))
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

// HandleLine decodes one command line and dispatches it.
func (s *Server) HandleLine(ctx context.Context, line []byte) Response {
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return NewErrorResponse("", errors.New(errors.ErrCodeInvalidCommand, "invalid command: "+err.Error(), err))
	}
	return s.Handle(ctx, cmd)
}

// Handle dispatches one command and records it.
func (s *Server) Handle(ctx context.Context, cmd Command) Response {
	start := time.Now()
	data, query, count, err := s.dispatch(ctx, cmd)
	latency := time.Since(start)

	s.metrics.Record(telemetry.Event{
		Action:      cmd.Action,
		Query:       query,
		ResultCount: count,
		Latency:     latency,
		Failed:      err != nil,
	})

	if err != nil {
		attrs := append([]slog.Attr{
			slog.String("action", cmd.Action),
			slog.String("id", cmd.ID),
		}, errors.LogAttrs(err)...)
		s.logger.LogAttrs(ctx, slog.LevelDebug, "command failed", attrs...)
		return NewErrorResponse(cmd.ID, err)
	}
	return NewSuccessResponse(cmd.ID, data)
}

// Close stops accepting connections, closes open ones, stops any
// watcher and shuts down language servers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	ln := s.listener
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.state.close()
	_ = s.semantic.Close()

	s.lspMu.Lock()
	managers := s.lsps
	s.lsps = make(map[string]*lsp.Manager)
	s.lspMu.Unlock()
	for _, m := range managers {
		_ = m.Close()
	}
	return err
}

// lspManager returns the language server manager for root, creating it on
// first use. Managers live until the server closes.
func (s *Server) lspManager(root string) *lsp.Manager {
	s.lspMu.Lock()
	defer s.lspMu.Unlock()
	if m, ok := s.lsps[root]; ok {
		return m
	}
	m := lsp.NewManager(root, lsp.ManagerOptions{
		DefaultLanguage: s.cfg.LSP.DefaultLanguage,
		Servers:         s.cfg.LSP.Servers,
		Factory:         s.lspFactory,
		Logger:          s.logger,
	})
	s.lsps[root] = m
	return m
}

// resolveRoot makes root absolute and checks it is a directory.
func resolveRoot(root string) (string, error) {
	if root == "" {
		return "", errors.Newf(errors.ErrCodeInvalidParams, "root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", errors.New(errors.ErrCodeInvalidPath, "invalid root: "+root, err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return "", errors.New(errors.ErrCodeInvalidPath, "root does not exist: "+root, err)
	}
	if !fi.IsDir() {
		return "", errors.Newf(errors.ErrCodeInvalidPath, "root is not a directory: %s", root)
	}
	return abs, nil
}
