// Package mcp exposes the tool surface over the Model Context Protocol:
// JSON-RPC with Content-Length framing on stdio. The dispatcher
// demultiplexes tools/call requests to LSP forwards or plan handlers and
// shapes every response into the unified envelope.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

const protocolVersion = "2024-11-05"

// internalCapability is the client capability that unlocks internal tools
// in tools/list.
const internalCapability = "experimental.internalTools"

// Dispatcher routes MCP methods. One instance serves one client connection's
// lifetime; the registry behind it is shared and immutable.
type Dispatcher struct {
	registry  *ToolRegistry
	telemetry TelemetrySink
	logger    *slog.Logger

	mu             sync.Mutex
	initialized    bool
	internalsShown bool
	inFlight       map[string]context.CancelFunc // keyed by request id
}

// NewDispatcher builds a dispatcher over a registry. A nil sink falls back
// to debug logging.
func NewDispatcher(registry *ToolRegistry, sink TelemetrySink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mcp")
	if sink == nil {
		sink = &slogSink{logger: logger}
	}
	return &Dispatcher{
		registry:  registry,
		telemetry: sink,
		logger:    logger,
		inFlight:  make(map[string]context.CancelFunc),
	}
}

// initializeParams is the subset of the MCP initialize request we act on.
type initializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type cancelledParams struct {
	RequestID json.RawMessage `json:"requestId"`
}

// Dispatch handles one request. The id is the wire request id rendered as a
// string, used for cancellation correlation; notifications pass "".
func (d *Dispatcher) Dispatch(ctx context.Context, method, id string, params json.RawMessage) (interface{}, *ApiError) {
	switch method {
	case "initialize":
		return d.handleInitialize(params)
	case "notifications/initialized":
		return nil, nil
	case "notifications/cancelled":
		d.handleCancelled(params)
		return nil, nil
	case "tools/list":
		return d.handleToolsList(), nil
	case "tools/call":
		return d.handleToolsCall(ctx, id, params)
	case "ping":
		return map[string]interface{}{}, nil
	default:
		return nil, apiErrorf(KindMethodNotFound, "unknown method "+method)
	}
}

func (d *Dispatcher) handleInitialize(params json.RawMessage) (interface{}, *ApiError) {
	var p initializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, apiErrorf(KindInvalidRequest, "malformed initialize params: "+err.Error())
		}
	}
	d.mu.Lock()
	d.initialized = true
	d.internalsShown = hasCapabilityPath(p.Capabilities, internalCapability)
	d.mu.Unlock()

	return map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    "typemill",
			"version": "1.0",
		},
	}, nil
}

func hasCapabilityPath(caps map[string]interface{}, dotted string) bool {
	cur := caps
	path := splitDotted(dotted)
	for i, seg := range path {
		v, ok := cur[seg]
		if !ok {
			return false
		}
		if i == len(path)-1 {
			if b, isBool := v.(bool); isBool {
				return b
			}
			return true
		}
		cur, ok = v.(map[string]interface{})
		if !ok {
			return false
		}
	}
	return false
}

func splitDotted(s string) []string {
	var out []string
	last := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out = append(out, s[last:i])
			last = i + 1
		}
	}
	return append(out, s[last:])
}

func (d *Dispatcher) handleToolsList() interface{} {
	d.mu.Lock()
	includeInternal := d.internalsShown
	d.mu.Unlock()

	defs := d.registry.List(includeInternal)
	tools := make([]map[string]interface{}, 0, len(defs))
	for _, def := range defs {
		schema := def.Schema
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}
		tools = append(tools, map[string]interface{}{
			"name":        def.Name,
			"description": def.Description,
			"inputSchema": schema,
		})
	}
	return map[string]interface{}{"tools": tools}
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, id string, params json.RawMessage) (interface{}, *ApiError) {
	var p toolCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, apiErrorf(KindInvalidRequest, "malformed tools/call params: "+err.Error())
	}
	def, ok := d.registry.Get(p.Name)
	if !ok {
		return nil, apiErrorf(KindMethodNotFound, "unknown tool "+p.Name)
	}

	callCtx := ctx
	if id != "" {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithCancel(ctx)
		d.mu.Lock()
		d.inFlight[id] = cancel
		d.mu.Unlock()
		defer func() {
			d.mu.Lock()
			delete(d.inFlight, id)
			d.mu.Unlock()
			cancel()
		}()
	}

	start := time.Now()
	result, err := def.Handler(callCtx, p.Arguments)
	span := Span{Tool: p.Name, Duration: time.Since(start), Outcome: "ok"}
	if err != nil {
		api := toApiError(err)
		span.Outcome = string(api.Kind)
		d.telemetry.Record(span)
		return nil, api
	}
	d.telemetry.Record(span)
	return map[string]interface{}{"content": result}, nil
}

func (d *Dispatcher) handleCancelled(params json.RawMessage) {
	var p cancelledParams
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}
	id := normalizeID(p.RequestID)
	d.mu.Lock()
	cancel, ok := d.inFlight[id]
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

// normalizeID renders a JSON request id (number or string) canonically.
func normalizeID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
