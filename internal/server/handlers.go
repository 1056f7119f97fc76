package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/Aman-CERP/codesearch/internal/errors"
	"github.com/Aman-CERP/codesearch/internal/index"
	"github.com/Aman-CERP/codesearch/internal/query"
	"github.com/Aman-CERP/codesearch/pkg/version"
)

// dispatch runs one command. It returns the response data, the query
// string for telemetry and the number of results.
func (s *Server) dispatch(ctx context.Context, cmd Command) (data any, q string, count int, err error) {
	switch cmd.Action {
	case ActionSearchText:
		var p SearchTextParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, "", 0, err
		}
		root, err := resolveRoot(p.Root)
		if err != nil {
			return nil, p.Pattern, 0, err
		}
		ms, err := s.search.Text(ctx, root, p.Pattern, p.Regex, s.limit(p.Limit))
		return matches(ms), p.Pattern, len(ms), err

	case ActionSearchSyntax:
		var p SearchSyntaxParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, "", 0, err
		}
		root, err := resolveRoot(p.Root)
		if err != nil {
			return nil, p.Query, 0, err
		}
		ms, err := s.search.Syntax(ctx, root, p.Query, p.Language, s.limit(p.Limit))
		return matches(ms), p.Query, len(ms), err

	case ActionSearchSymbol:
		return s.searchWith(ctx, cmd.Params, s.searchSymbols)
	case ActionSearchSemantic:
		return s.searchWith(ctx, cmd.Params, func(ctx context.Context, root, q string, limit int) (any, int, error) {
			if !s.cfg.Backends.Semantic {
				return matches([]struct{}{}), 0, nil
			}
			ms, err := s.search.Semantic(ctx, root, q, limit)
			return matches(ms), len(ms), err
		})
	case ActionSearchFuzzy:
		return s.searchWith(ctx, cmd.Params, func(ctx context.Context, root, q string, limit int) (any, int, error) {
			if !s.cfg.Backends.Fuzzy {
				return matches([]struct{}{}), 0, nil
			}
			ms, err := s.search.Fuzzy(ctx, root, q, limit)
			return matches(ms), len(ms), err
		})
	case ActionSearchPath:
		return s.searchWith(ctx, cmd.Params, func(ctx context.Context, root, q string, limit int) (any, int, error) {
			ms, err := s.search.Paths(ctx, root, q, limit)
			return matches(ms), len(ms), err
		})

	case ActionQuery:
		return s.handleQuery(ctx, cmd.Params)
	case ActionIndexBuild:
		data, err := s.handleIndexBuild(ctx, cmd.Params)
		return data, "", 0, err
	case ActionIndexStats:
		data, err := s.handleIndexStats(ctx)
		return data, "", 0, err
	case ActionIndexWatch:
		data, err := s.handleIndexWatch(ctx, cmd.Params)
		return data, "", 0, err

	// Not wired to language servers yet; the query path serves calls,
	// calledby and references.
	case ActionLSPDefinition, ActionLSPReferences:
		var p LSPParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, "", 0, err
		}
		return LSPLocationsData{Locations: []any{}}, "", 0, nil
	case ActionLSPSymbols:
		var p LSPParams
		if err := decodeParams(cmd.Params, &p); err != nil {
			return nil, "", 0, err
		}
		return LSPSymbolsData{Symbols: []any{}}, "", 0, nil

	case ActionPing:
		return PingData{Pong: true}, "", 0, nil
	case ActionStatus:
		active, watching, err := s.state.snapshot(ctx)
		if err != nil {
			return nil, "", 0, err
		}
		st := StatusData{
			Running:     true,
			PID:         os.Getpid(),
			Version:     version.Short(),
			Uptime:      time.Since(s.started).Round(time.Second).String(),
			Connections: s.conns.Load(),
			Watching:    watching,
		}
		if active != nil {
			st.Root = active.root
		}
		return st, "", 0, nil
	}

	return nil, "", 0, errors.Newf(errors.ErrCodeUnknownAction, "unknown action: %q", cmd.Action)
}

type searchFunc func(ctx context.Context, root, q string, limit int) (data any, count int, err error)

func (s *Server) searchWith(ctx context.Context, raw json.RawMessage, fn searchFunc) (any, string, int, error) {
	var p SearchParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, "", 0, err
	}
	root, err := resolveRoot(p.Root)
	if err != nil {
		return nil, p.Query, 0, err
	}
	data, count, err := fn(ctx, root, p.Query, s.limit(p.Limit))
	return data, p.Query, count, err
}

// searchSymbols reads the active index when it covers root and extracts
// symbols from the tree otherwise.
func (s *Server) searchSymbols(ctx context.Context, root, q string, limit int) (any, int, error) {
	if !s.cfg.Backends.Symbols {
		return matches([]struct{}{}), 0, nil
	}
	if st := s.activeStore(ctx, root); st != nil {
		ms := st.Search(q, limit)
		return matches(ms), len(ms), nil
	}
	ms, err := s.search.Symbols(ctx, root, q, limit)
	return matches(ms), len(ms), err
}

func (s *Server) handleQuery(ctx context.Context, raw json.RawMessage) (any, string, int, error) {
	var p QueryParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, "", 0, err
	}
	root, err := resolveRoot(p.Root)
	if err != nil {
		return nil, p.Query, 0, err
	}

	q, meta, err := query.Parse(p.Query)
	if err != nil {
		return nil, p.Query, 0, err
	}
	if p.Limit != nil {
		meta.Limit = p.Limit
	}
	if p.Offset != nil {
		meta.Offset = p.Offset
	}

	caps := query.Capabilities{
		Symbols:  s.cfg.Backends.Symbols,
		LSP:      s.cfg.Backends.LSP,
		Semantic: s.cfg.Backends.Semantic,
		Fuzzy:    s.cfg.Backends.Fuzzy,
	}
	src := query.Sources{
		Root:   root,
		Search: s.search,
		Index:  s.activeStore(ctx, root),
	}
	if caps.LSP {
		src.LSP = s.lspManager(root)
	}

	results, err := query.New(src, caps, s.logger).Execute(ctx, q, meta)
	if err != nil {
		return nil, p.Query, 0, errors.New(errors.ErrCodeQueryExecution, "query failed: "+errors.Message(err), err)
	}
	return MatchesData{Matches: results}, p.Query, len(results), nil
}

func (s *Server) handleIndexBuild(ctx context.Context, raw json.RawMessage) (any, error) {
	var p IndexBuildParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	root, err := resolveRoot(p.Root)
	if err != nil {
		return nil, err
	}
	watch := p.Watch == nil || *p.Watch

	start := time.Now()
	opts := index.Options{
		IndexPath: s.cfg.IndexPath(root),
		Logger:    s.logger,
	}
	if s.cfg.Backends.Symbols {
		opts.Extractor = s.extractor
	}
	store := index.NewStore(root, opts)
	if err := store.Load(); err != nil {
		// A corrupt cache is rebuilt by the full scan below.
		s.logger.LogAttrs(ctx, slog.LevelWarn, "ignoring unreadable index", errors.LogAttrs(err)...)
	}

	indexer := index.NewIndexer(store, s.scanner, index.IndexerConfig{
		Scan:    s.cfg.ScanOptions(root),
		Workers: s.cfg.Index.Workers,
		Logger:  s.logger,
	})
	n, err := indexer.InitialIndex(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.Persist(); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to persist index", errors.LogAttrs(err)...)
	}
	elapsed := time.Since(start)

	active := &activeIndex{root: root, store: store, indexer: indexer}
	var ws *watchSession
	if watch {
		ws, err = s.startWatch(active)
		if err != nil {
			s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to start watcher", errors.LogAttrs(err)...)
			ws = nil
		}
	}

	var old *watchSession
	if err := s.state.do(ctx, func(d *stateData) {
		old = d.watch
		d.active = active
		d.watch = ws
	}); err != nil {
		if ws != nil {
			ws.stop()
		}
		return nil, err
	}
	if old != nil {
		old.stop()
	}

	s.logger.Info("index built",
		slog.String("root", root),
		slog.Int("files", n),
		slog.Duration("duration", elapsed),
		slog.Bool("watching", ws != nil))
	return IndexBuildData{IndexedFiles: n, DurationMS: elapsed.Milliseconds()}, nil
}

func (s *Server) handleIndexStats(ctx context.Context) (any, error) {
	active, watching, err := s.state.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return IndexStatsData{}, nil
	}
	st := active.store.Stats()
	return IndexStatsData{
		TotalFiles:   st.TotalFiles,
		TotalSymbols: st.TotalSymbols,
		TotalSize:    st.TotalSize,
		LastUpdated:  st.LastUpdated,
		Watching:     watching,
		Root:         active.root,
		IndexPath:    st.IndexPath,
	}, nil
}

func (s *Server) handleIndexWatch(ctx context.Context, raw json.RawMessage) (any, error) {
	var p IndexWatchParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}

	if !p.Enable {
		var ws *watchSession
		if err := s.state.do(ctx, func(d *stateData) {
			ws, d.watch = d.watch, nil
		}); err != nil {
			return nil, err
		}
		if ws != nil {
			ws.stop()
		}
		return IndexWatchData{Watching: false}, nil
	}

	active, watching, err := s.state.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, errors.Newf(errors.ErrCodeNoActiveIndex, "no active index, run index_build first")
	}
	if watching {
		return IndexWatchData{Watching: true}, nil
	}

	ws, err := s.startWatch(active)
	if err != nil {
		return nil, errors.IndexError("start watcher", err)
	}
	installed := false
	if err := s.state.do(ctx, func(d *stateData) {
		// Another request may have rebuilt or started watching meanwhile.
		if d.active == active && d.watch == nil {
			d.watch = ws
			installed = true
		}
	}); err != nil {
		ws.stop()
		return nil, err
	}
	if !installed {
		ws.stop()
	}
	return IndexWatchData{Watching: true}, nil
}

// activeStore returns the active index when it was built for root.
func (s *Server) activeStore(ctx context.Context, root string) *index.Store {
	active, _, err := s.state.snapshot(ctx)
	if err != nil || active == nil || active.root != root {
		return nil
	}
	return active.store
}

func (s *Server) limit(n int) int {
	if n <= 0 {
		n = s.cfg.Search.DefaultLimit
	}
	if most := s.cfg.Search.MaxResults; most > 0 && n > most {
		n = most
	}
	return n
}

func decodeParams(raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.New(errors.ErrCodeInvalidParams, "invalid params: "+err.Error(), err)
	}
	return nil
}

// matches wraps a result slice, keeping an empty list non-null.
func matches[T any](ms []T) MatchesData {
	if ms == nil {
		ms = []T{}
	}
	return MatchesData{Matches: ms}
}
