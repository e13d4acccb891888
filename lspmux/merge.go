package lspmux

import (
	"context"
	"encoding/json"

	"go.lsp.dev/protocol"
	"golang.org/x/sync/errgroup"
)

// maxMergedSymbols truncates a cross-server symbol merge.
const maxMergedSymbols = 10000

// BroadcastResult is one server's answer to a broadcast request.
type BroadcastResult struct {
	Server string
	Result json.RawMessage
	Err    error
}

// Broadcast sends a request to every Ready server and collects all answers.
// Results come back in config declaration order.
func (r *Registry) Broadcast(ctx context.Context, method string, params interface{}) []BroadcastResult {
	servers := r.ready()
	results := make([]BroadcastResult, len(servers))
	g, gctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		g.Go(func() error {
			var raw json.RawMessage
			err := srv.Call(gctx, method, params, &raw)
			results[i] = BroadcastResult{Server: srv.id, Result: raw, Err: err}
			return nil // per-server failures degrade, never abort the fan-out
		})
	}
	_ = g.Wait()
	return results
}

// SymbolSearch is the merged outcome of a workspace/symbol broadcast.
type SymbolSearch struct {
	Symbols   []protocol.SymbolInformation
	Warnings  []string
	Truncated bool
}

// WorkspaceSymbols broadcasts workspace/symbol and concatenates the results
// in server order, truncating at the merge cap. Per-server failures become
// warnings; the call fails only when no server answered.
func (r *Registry) WorkspaceSymbols(ctx context.Context, query string) (*SymbolSearch, error) {
	results := r.Broadcast(ctx, "workspace/symbol", &protocol.WorkspaceSymbolParams{Query: query})
	if len(results) == 0 {
		return nil, ErrUnavailable
	}

	out := &SymbolSearch{}
	answered := 0
	for _, res := range results {
		if res.Err != nil {
			out.Warnings = append(out.Warnings, res.Server+": "+res.Err.Error())
			continue
		}
		answered++
		var symbols []protocol.SymbolInformation
		if len(res.Result) > 0 {
			if err := json.Unmarshal(res.Result, &symbols); err != nil {
				out.Warnings = append(out.Warnings, res.Server+": "+err.Error())
				continue
			}
		}
		for _, sym := range symbols {
			if len(out.Symbols) >= maxMergedSymbols {
				out.Truncated = true
				break
			}
			out.Symbols = append(out.Symbols, sym)
		}
	}
	if answered == 0 {
		return nil, ErrUnavailable
	}
	return out, nil
}
