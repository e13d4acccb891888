package mcp

import (
	"context"
	"io"
	"os"
	"strconv"

	"github.com/sourcegraph/jsonrpc2"
)

// Server binds a dispatcher to one JSON-RPC connection. The stdio transport
// uses the same Content-Length framing as LSP.
type Server struct {
	dispatcher *Dispatcher
}

// NewServer wraps a dispatcher.
func NewServer(dispatcher *Dispatcher) *Server {
	return &Server{dispatcher: dispatcher}
}

// ServeStdio runs the MCP loop over stdin/stdout until the client
// disconnects or ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.serve(ctx, &stdioStream{in: os.Stdin, out: os.Stdout})
}

// Serve runs the MCP loop over an arbitrary stream (used by tests and by
// transport adapters like WebSocket bridges).
func (s *Server) Serve(ctx context.Context, stream io.ReadWriteCloser) error {
	return s.serve(ctx, stream)
}

func (s *Server) serve(ctx context.Context, stream io.ReadWriteCloser) error {
	// AsyncHandler keeps notifications/cancelled responsive while a long
	// tool call is in flight.
	conn := jsonrpc2.NewConn(ctx,
		jsonrpc2.NewBufferedStream(stream, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(s.handle)),
	)
	select {
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	case <-conn.DisconnectNotify():
		return nil
	}
}

func (s *Server) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	var params []byte
	if req.Params != nil {
		params = *req.Params
	}
	result, apiErr := s.dispatcher.Dispatch(ctx, req.Method, requestID(req), params)
	if apiErr != nil {
		return nil, apiErr.RPCError()
	}
	return result, nil
}

func requestID(req *jsonrpc2.Request) string {
	if req.Notif {
		return ""
	}
	if req.ID.IsString {
		return req.ID.Str
	}
	return strconv.FormatUint(req.ID.Num, 10)
}

// stdioStream adapts process stdio into a ReadWriteCloser.
type stdioStream struct {
	in  io.ReadCloser
	out io.WriteCloser
}

func (s *stdioStream) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *stdioStream) Write(p []byte) (int, error) { return s.out.Write(p) }
func (s *stdioStream) Close() error {
	_ = s.in.Close()
	return s.out.Close()
}
