package lspmux

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.lsp.dev/protocol"
	"golang.org/x/sync/semaphore"

	"github.com/pleme-io/typemill/config"
	"github.com/pleme-io/typemill/workspace"
)

// failureWindow is the span within which two consecutive restart failures
// mark a server Failed.
const failureWindow = 60 * time.Second

// ReadFileFunc reads current workspace bytes; wired to the file service so
// document opens observe exactly what the apply engine does.
type ReadFileFunc func(rel string) ([]byte, error)

// Registry owns one Server per configured extension group, spawning on
// demand and supervising restarts.
type Registry struct {
	cfg      *config.Config
	root     *workspace.Root
	readFile ReadFileFunc
	logger   *slog.Logger
	dial     dialFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	servers map[string]*Server
}

// NewRegistry builds a registry. Subscribe the returned registry to the
// workspace bus with Bus.Subscribe(r.HandleChanges).
func NewRegistry(cfg *config.Config, root *workspace.Root, readFile ReadFileFunc, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:      cfg,
		root:     root,
		readFile: readFile,
		logger:   logger.With("component", "lspmux"),
		dial:     spawnProcess,
		ctx:      ctx,
		cancel:   cancel,
		servers:  make(map[string]*Server),
	}
}

// languageIDFor maps an extension to the LSP language identifier.
func languageIDFor(ext string) string {
	switch ext {
	case "ts", "tsx":
		return "typescript"
	case "js", "jsx", "mjs", "cjs":
		return "javascript"
	case "py", "pyi":
		return "python"
	case "rs":
		return "rust"
	case "go":
		return "go"
	default:
		return ext
	}
}

// ServerFor resolves the server owning path's extension, spawning it on
// first use. Returns ErrUnavailable for unconfigured extensions or Failed
// servers.
func (r *Registry) ServerFor(ctx context.Context, rel string) (*Server, error) {
	ext := strings.TrimPrefix(filepath.Ext(rel), ".")
	sc := r.cfg.ServerFor(ext)
	if sc == nil {
		return nil, ErrUnavailable
	}
	return r.ensure(ctx, *sc, ext)
}

// ServersFor resolves every server configured for path's extension; more
// than one only in the explicit multi-server case.
func (r *Registry) ServersFor(ctx context.Context, rel string) ([]*Server, error) {
	ext := strings.TrimPrefix(filepath.Ext(rel), ".")
	blocks := r.cfg.ServersFor(ext)
	if len(blocks) == 0 {
		return nil, ErrUnavailable
	}
	var out []*Server
	for _, sc := range blocks {
		srv, err := r.ensure(ctx, *sc, ext)
		if err != nil {
			continue
		}
		out = append(out, srv)
	}
	if len(out) == 0 {
		return nil, ErrUnavailable
	}
	return out, nil
}

func (r *Registry) ensure(ctx context.Context, sc config.ServerConfig, ext string) (*Server, error) {
	r.mu.Lock()
	srv, ok := r.servers[sc.ID()]
	if !ok {
		srv = r.newServer(sc, ext)
		r.servers[sc.ID()] = srv
		go r.supervise(srv)
		go func() {
			if err := srv.start(r.ctx); err != nil {
				r.logger.Error("server start failed", "server", srv.id, "error", err)
			}
		}()
	}
	r.mu.Unlock()

	if err := srv.awaitReady(ctx); err != nil {
		return nil, err
	}
	return srv, nil
}

func (r *Registry) newServer(sc config.ServerConfig, ext string) *Server {
	srv := &Server{
		id:          sc.ID(),
		cfg:         sc,
		root:        r.root,
		readFile:    r.readFile,
		logger:      r.logger,
		dial:        r.dial,
		timeout:     r.cfg.RequestTimeout(),
		languageID:  languageIDFor(ext),
		openDocs:    make(map[string]*openDocument),
		diagnostics: make(map[string][]protocol.Diagnostic),
		initialized: make(chan struct{}),
		inFlight:    semaphore.NewWeighted(maxInFlight),
	}
	return srv
}

// StartAll ensures every configured server is spawned, waiting for each to
// leave initialization. Failed servers are reported but do not abort.
func (r *Registry) StartAll(ctx context.Context) []error {
	var errs []error
	for _, sc := range r.cfg.Servers {
		if len(sc.Extensions) == 0 {
			continue
		}
		if _, err := r.ensure(ctx, sc, strings.TrimPrefix(sc.Extensions[0], ".")); err != nil {
			errs = append(errs, &RequestError{Server: sc.ID(), Method: "start", Err: err})
		}
	}
	return errs
}

// Request routes one LSP request to the server owning rel, opening the
// document first.
func (r *Registry) Request(ctx context.Context, rel, method string, params, result interface{}) error {
	srv, err := r.ServerFor(ctx, rel)
	if err != nil {
		return err
	}
	if err := srv.EnsureOpen(ctx, rel); err != nil {
		return err
	}
	return srv.Call(ctx, method, params, result)
}

// Notify routes a notification to the server owning rel.
func (r *Registry) Notify(ctx context.Context, rel, method string, params interface{}) error {
	srv, err := r.ServerFor(ctx, rel)
	if err != nil {
		return err
	}
	return srv.Notify(ctx, method, params)
}

// Running returns the currently instantiated servers.
func (r *Registry) Running() []*Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Server, 0, len(r.servers))
	for _, srv := range r.servers {
		out = append(out, srv)
	}
	return out
}

// ready returns the Ready servers in stable (config declaration) order.
func (r *Registry) ready() []*Server {
	var out []*Server
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sc := range r.cfg.Servers {
		if srv, ok := r.servers[sc.ID()]; ok && srv.Status() == StatusReady {
			out = append(out, srv)
		}
	}
	return out
}

// Restart gracefully restarts servers. With no extensions given, every
// running server restarts; otherwise only the owners of those extensions.
// Open documents are preserved and replayed.
func (r *Registry) Restart(ctx context.Context, extensions ...string) {
	targets := map[string]bool{}
	for _, ext := range extensions {
		if sc := r.cfg.ServerFor(ext); sc != nil {
			targets[sc.ID()] = true
		}
	}
	for _, srv := range r.Running() {
		if len(targets) > 0 && !targets[srv.id] {
			continue
		}
		r.restartServer(srv)
	}
}

// restartServer performs one graceful shutdown + respawn cycle, applying the
// two-failures-within-60s policy.
func (r *Registry) restartServer(srv *Server) {
	if !srv.stopping.CompareAndSwap(false, true) {
		return
	}
	defer srv.stopping.Store(false)

	srv.setStatus(StatusRestarting)
	srv.shutdown(r.ctx)

	if err := srv.start(r.ctx); err == nil {
		return
	}
	now := time.Now()
	srv.mu.Lock()
	recent := !srv.lastFailure.IsZero() && now.Sub(srv.lastFailure) < failureWindow
	srv.lastFailure = now
	srv.mu.Unlock()
	if recent {
		srv.setStatus(StatusFailed)
		r.logger.Error("server failed permanently", "server", srv.id)
		return
	}
	if err := srv.start(r.ctx); err != nil {
		srv.setStatus(StatusFailed)
		r.logger.Error("server failed permanently", "server", srv.id, "error", err)
	}
}

// HandleChanges reacts to workspace file events: open documents are synced
// with didChange (or closed on delete) on every server that has them open.
func (r *Registry) HandleChanges(changes []workspace.FileChange) {
	for _, srv := range r.Running() {
		if srv.Status() != StatusReady {
			continue
		}
		for _, change := range changes {
			if srv.DocumentVersion(change.Path) == 0 {
				continue
			}
			if change.Deleted {
				_ = srv.DidClose(r.ctx, change.Path)
				continue
			}
			data, err := r.readFile(change.Path)
			if err != nil {
				_ = srv.DidClose(r.ctx, change.Path)
				continue
			}
			_ = srv.DidChange(r.ctx, change.Path, string(data))
		}
	}
}

// Shutdown stops every server and the supervisors.
func (r *Registry) Shutdown(ctx context.Context) {
	for _, srv := range r.Running() {
		srv.stopping.Store(true)
		srv.setStatus(StatusFailed)
		srv.shutdown(ctx)
	}
	r.cancel()
}
