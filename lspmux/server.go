// Package lspmux owns the language server subprocesses: spawning,
// initialization, document state, request routing, periodic restarts, and
// result merging across servers.
package lspmux

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/tidwall/gjson"
	"go.lsp.dev/protocol"
	"golang.org/x/sync/semaphore"

	"github.com/pleme-io/typemill/config"
	"github.com/pleme-io/typemill/workspace"
)

// Status is the lifecycle state of one server.
type Status int32

const (
	StatusSpawning Status = iota
	StatusInitializing
	StatusReady
	StatusRestarting
	StatusFailed
)

// String returns the lowercase state name.
func (s Status) String() string {
	switch s {
	case StatusSpawning:
		return "spawning"
	case StatusInitializing:
		return "initializing"
	case StatusReady:
		return "ready"
	case StatusRestarting:
		return "restarting"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// maxInFlight bounds concurrent requests per server; excess callers wait.
const maxInFlight = 1024

// openDocument tracks one file opened on a server.
type openDocument struct {
	version    int32
	languageID string
	text       string
}

// Server is the state for one language server subprocess.
type Server struct {
	id         string
	cfg        config.ServerConfig
	root       *workspace.Root
	readFile   func(rel string) ([]byte, error)
	logger     *slog.Logger
	dial       dialFunc
	timeout    time.Duration
	languageID string

	status   atomic.Int32
	stopping atomic.Bool

	mu           sync.Mutex
	conn         *jsonrpc2.Conn
	closeProc    func()
	capabilities json.RawMessage
	openDocs     map[string]*openDocument // keyed by workspace-relative path
	initialized  chan struct{}            // closed when Ready
	lastStart    time.Time
	lastFailure  time.Time

	diagMu      sync.Mutex
	diagnostics map[string][]protocol.Diagnostic

	nextID   atomic.Int64
	inFlight *semaphore.Weighted
}

// dialFunc produces the JSON-RPC stream for a server. The default spawns the
// configured subprocess; tests substitute in-memory pipes.
type dialFunc func(ctx context.Context, s *Server) (io.ReadWriteCloser, func(), error)

func spawnProcess(ctx context.Context, s *Server) (io.ReadWriteCloser, func(), error) {
	cmd := exec.Command(s.cfg.Command[0], s.cfg.Command[1:]...)
	cmd.Dir = s.root.Path()
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("spawn %s: %w", s.cfg.Command[0], err)
	}
	go s.drainStderr(stderr)
	closeProc := func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
		}
	}
	return &stdioPipe{reader: stdout, writer: stdin}, closeProc, nil
}

func (s *Server) drainStderr(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.logger.Debug("server stderr", "server", s.id, "output", string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// cancelParams is the $/cancelRequest payload.
type cancelParams struct {
	ID uint64 `json:"id"`
}

// stdioPipe joins a subprocess's stdout/stdin into one stream.
type stdioPipe struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (p *stdioPipe) Read(b []byte) (int, error)  { return p.reader.Read(b) }
func (p *stdioPipe) Write(b []byte) (int, error) { return p.writer.Write(b) }
func (p *stdioPipe) Close() error {
	_ = p.reader.Close()
	return p.writer.Close()
}

// Status returns the current lifecycle state.
func (s *Server) Status() Status { return Status(s.status.Load()) }

func (s *Server) setStatus(st Status) { s.status.Store(int32(st)) }

// ID returns the stable registry key.
func (s *Server) ID() string { return s.id }

// start spawns and initializes the subprocess. Callers hold no locks.
func (s *Server) start(ctx context.Context) error {
	// Reuse a still-open channel so callers already waiting in awaitReady are
	// woken by this start; a closed one belongs to a finished start.
	s.mu.Lock()
	initialized := s.initialized
	select {
	case <-initialized:
		initialized = make(chan struct{})
		s.initialized = initialized
	default:
	}
	s.mu.Unlock()
	s.setStatus(StatusSpawning)
	stream, closeProc, err := s.dial(ctx, s)
	if err != nil {
		s.setStatus(StatusFailed)
		close(initialized) // wake waiters; they observe the Failed status
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.setStatus(StatusInitializing)
	handler := jsonrpc2.HandlerWithError(s.handleServerMessage)
	conn := jsonrpc2.NewConn(ctx, jsonrpc2.NewBufferedStream(stream, jsonrpc2.VSCodeObjectCodec{}), handler)

	s.mu.Lock()
	s.conn = conn
	s.closeProc = closeProc
	s.lastStart = time.Now()
	s.mu.Unlock()

	if err := s.initialize(ctx); err != nil {
		conn.Close()
		if closeProc != nil {
			closeProc()
		}
		s.setStatus(StatusFailed)
		close(initialized)
		return fmt.Errorf("initialize %s: %w", s.id, err)
	}

	// Replay documents that were open before a restart.
	s.mu.Lock()
	docs := make(map[string]*openDocument, len(s.openDocs))
	for rel, doc := range s.openDocs {
		docs[rel] = doc
	}
	s.mu.Unlock()
	for rel, doc := range docs {
		doc.version++
		if err := s.didOpen(ctx, rel, doc); err != nil {
			s.logger.Warn("reopen after restart failed", "server", s.id, "path", rel, "error", err)
		}
	}

	s.setStatus(StatusReady)
	close(initialized)
	return nil
}

func (s *Server) initialize(ctx context.Context) error {
	params := &protocol.InitializeParams{
		ProcessID: int32(os.Getpid()),
		RootURI:   protocol.DocumentURI(s.root.URI()),
		ClientInfo: &protocol.ClientInfo{
			Name:    "typemill",
			Version: "1.0",
		},
		Capabilities: protocol.ClientCapabilities{
			TextDocument: &protocol.TextDocumentClientCapabilities{
				Synchronization: &protocol.TextDocumentSyncClientCapabilities{},
				Hover:           &protocol.HoverTextDocumentClientCapabilities{},
				Definition:      &protocol.DefinitionTextDocumentClientCapabilities{},
				References:      &protocol.ReferencesTextDocumentClientCapabilities{},
				DocumentSymbol:  &protocol.DocumentSymbolClientCapabilities{},
				Formatting:      &protocol.DocumentFormattingClientCapabilities{},
				Rename: &protocol.RenameClientCapabilities{
					PrepareSupport: true,
				},
				PublishDiagnostics: &protocol.PublishDiagnosticsClientCapabilities{},
				CallHierarchy:      &protocol.CallHierarchyClientCapabilities{},
			},
			Workspace: &protocol.WorkspaceClientCapabilities{
				Symbol: &protocol.WorkspaceClientCapabilitiesSymbol{},
			},
		},
	}
	var result json.RawMessage
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.conn.Call(callCtx, "initialize", params, &result); err != nil {
		return err
	}
	s.mu.Lock()
	s.capabilities = json.RawMessage(gjson.GetBytes(result, "capabilities").Raw)
	s.mu.Unlock()
	return s.conn.Notify(ctx, "initialized", &protocol.InitializedParams{})
}

// HasCapability queries the server-advertised capability set by gjson path,
// e.g. "renameProvider" or "textDocumentSync.openClose".
func (s *Server) HasCapability(path string) bool {
	s.mu.Lock()
	caps := s.capabilities
	s.mu.Unlock()
	v := gjson.GetBytes(caps, path)
	if !v.Exists() {
		return false
	}
	return v.Type != gjson.False
}

// handleServerMessage answers server-initiated traffic. The known server
// requests below get null/empty results; any other request is answered with
// a MethodNotFound error, and unknown notifications are ignored.
func (s *Server) handleServerMessage(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	switch req.Method {
	case "textDocument/publishDiagnostics":
		var params protocol.PublishDiagnosticsParams
		if req.Params != nil {
			if err := json.Unmarshal(*req.Params, &params); err != nil {
				return nil, err
			}
		}
		if rel, err := s.root.FromURI(params.URI); err == nil {
			s.diagMu.Lock()
			s.diagnostics[rel] = params.Diagnostics
			s.diagMu.Unlock()
		}
		return nil, nil
	case "window/workDoneProgress/create", "client/registerCapability", "client/unregisterCapability":
		return nil, nil
	case "workspace/configuration":
		// One null per requested item.
		var params protocol.ConfigurationParams
		if req.Params != nil {
			_ = json.Unmarshal(*req.Params, &params)
		}
		return make([]interface{}, len(params.Items)), nil
	case "workspace/applyEdit":
		return &protocol.ApplyWorkspaceEditResponse{Applied: false, FailureReason: "client does not apply server edits"}, nil
	default:
		if req.Notif {
			return nil, nil
		}
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not handled"}
	}
}

// awaitReady blocks until the server finished initializing or ctx expires.
func (s *Server) awaitReady(ctx context.Context) error {
	if s.Status() == StatusFailed {
		return ErrUnavailable
	}
	s.mu.Lock()
	ch := s.initialized
	s.mu.Unlock()
	select {
	case <-ch:
		if s.Status() != StatusReady {
			return ErrUnavailable
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnsureOpen opens the document on the server if needed, reading current
// bytes through the file service.
func (s *Server) EnsureOpen(ctx context.Context, rel string) error {
	s.mu.Lock()
	if _, ok := s.openDocs[rel]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	data, err := s.readFile(rel)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	doc := &openDocument{version: 1, languageID: s.languageID, text: string(data)}

	s.mu.Lock()
	if _, ok := s.openDocs[rel]; ok {
		s.mu.Unlock()
		return nil
	}
	s.openDocs[rel] = doc
	s.mu.Unlock()
	return s.didOpen(ctx, rel, doc)
}

func (s *Server) didOpen(ctx context.Context, rel string, doc *openDocument) error {
	u, err := s.root.FileURI(rel)
	if err != nil {
		return err
	}
	return s.conn.Notify(ctx, "textDocument/didOpen", &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        protocol.DocumentURI(u),
			LanguageID: protocol.LanguageIdentifier(doc.languageID),
			Version:    doc.version,
			Text:       doc.text,
		},
	})
}

// DidChange replaces the document's content, bumping the version. Full sync
// only; the version sequence per URI is strictly increasing.
func (s *Server) DidChange(ctx context.Context, rel string, text string) error {
	s.mu.Lock()
	doc, ok := s.openDocs[rel]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	doc.version++
	doc.text = text
	version := doc.version
	s.mu.Unlock()

	u, err := s.root.FileURI(rel)
	if err != nil {
		return err
	}
	return s.conn.Notify(ctx, "textDocument/didChange", &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(u)},
			Version:                version,
		},
		ContentChanges: []protocol.TextDocumentContentChangeEvent{{Text: text}},
	})
}

// DidClose closes the document on the server and forgets it.
func (s *Server) DidClose(ctx context.Context, rel string) error {
	s.mu.Lock()
	_, ok := s.openDocs[rel]
	delete(s.openDocs, rel)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	u, err := s.root.FileURI(rel)
	if err != nil {
		return err
	}
	return s.conn.Notify(ctx, "textDocument/didClose", &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(u)},
	})
}

// OpenDocuments lists the workspace paths currently open on this server.
func (s *Server) OpenDocuments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.openDocs))
	for rel := range s.openDocs {
		out = append(out, rel)
	}
	return out
}

// DocumentVersion reports the current version of an open document, or 0.
func (s *Server) DocumentVersion(rel string) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.openDocs[rel]; ok {
		return doc.version
	}
	return 0
}

// Diagnostics returns the last published diagnostics for a path.
func (s *Server) Diagnostics(rel string) []protocol.Diagnostic {
	s.diagMu.Lock()
	defer s.diagMu.Unlock()
	return s.diagnostics[rel]
}

// Call issues one request and decodes the response into result. Timeouts
// cancel the request on the server and leave it Ready.
func (s *Server) Call(ctx context.Context, method string, params, result interface{}) error {
	if err := s.awaitReady(ctx); err != nil {
		return &RequestError{Server: s.id, Method: method, Err: err}
	}
	if err := s.inFlight.Acquire(ctx, 1); err != nil {
		return &RequestError{Server: s.id, Method: method, Err: err}
	}
	defer s.inFlight.Release(1)

	id := jsonrpc2.ID{Num: uint64(s.nextID.Add(1))}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.conn.Call(callCtx, method, params, result, jsonrpc2.PickID(id))
	if err == nil {
		return nil
	}
	if callCtx.Err() == context.DeadlineExceeded {
		// Cancel server-side; the request id is dead, the server is not.
		_ = s.conn.Notify(ctx, "$/cancelRequest", &cancelParams{ID: id.Num})
		return &RequestError{Server: s.id, Method: method, Err: ErrTimeout}
	}
	return &RequestError{Server: s.id, Method: method, Err: err}
}

// Notify sends a fire-and-forget notification.
func (s *Server) Notify(ctx context.Context, method string, params interface{}) error {
	if err := s.awaitReady(ctx); err != nil {
		return err
	}
	return s.conn.Notify(ctx, method, params)
}

// DisconnectNotify reports the connection closing, which the supervisor uses
// to detect subprocess death.
func (s *Server) DisconnectNotify() <-chan struct{} {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return conn.DisconnectNotify()
}

// shutdown performs the LSP shutdown handshake and kills the process.
func (s *Server) shutdown(ctx context.Context) {
	s.mu.Lock()
	conn := s.conn
	closeProc := s.closeProc
	s.conn = nil
	s.closeProc = nil
	s.mu.Unlock()

	if conn != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		var discard json.RawMessage
		_ = conn.Call(shutdownCtx, "shutdown", nil, &discard)
		_ = conn.Notify(shutdownCtx, "exit", nil)
		cancel()
		_ = conn.Close()
	}
	if closeProc != nil {
		closeProc()
	}
}
