package mcp

import (
	"context"
	"encoding/json"
	"time"

	"go.lsp.dev/protocol"

	"github.com/pleme-io/typemill/lspmux"
	"github.com/pleme-io/typemill/textpos"
	"github.com/pleme-io/typemill/workspace"
)

// positionalArgs address a document position for LSP-forward tools.
type positionalArgs struct {
	Path     string           `json:"path"`
	Position textpos.Position `json:"position"`
}

type pathArgs struct {
	Path string `json:"path"`
}

type queryArgs struct {
	Query string `json:"query"`
}

func positionSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string"},
			"position": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"line":      map[string]interface{}{"type": "integer"},
					"character": map[string]interface{}{"type": "integer"},
				},
				"required": []string{"line", "character"},
			},
		},
		"required": []string{"path", "position"},
	}
}

func pathSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string"},
		},
		"required": []string{"path"},
	}
}

// lspTools builds the forward handlers: each shapes one LSP request via the
// registry and returns the server's result verbatim.
func lspTools(lsp *lspmux.Registry, root *workspace.Root) []*ToolDefinition {
	docPos := func(args positionalArgs) (protocol.TextDocumentPositionParams, error) {
		u, err := root.FileURI(args.Path)
		if err != nil {
			return protocol.TextDocumentPositionParams{}, apiErrorf(KindInvalidRequest, err.Error())
		}
		return protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(u)},
			Position:     protocol.Position{Line: args.Position.Line, Character: args.Position.Character},
		}, nil
	}

	forward := func(method string, build func(args positionalArgs) (interface{}, error)) HandlerFunc {
		return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var args positionalArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, apiErrorf(KindInvalidRequest, "malformed arguments: "+err.Error())
			}
			if args.Path == "" {
				return nil, apiErrorf(KindInvalidRequest, "path is required")
			}
			params, err := build(args)
			if err != nil {
				return nil, err
			}
			var result json.RawMessage
			if err := lsp.Request(ctx, args.Path, method, params, &result); err != nil {
				return nil, err
			}
			return result, nil
		}
	}

	return []*ToolDefinition{
		{
			Name:        "find_definition",
			Description: "Find the definition of the symbol at a position.",
			Schema:      positionSchema(),
			Handler: forward("textDocument/definition", func(args positionalArgs) (interface{}, error) {
				pos, err := docPos(args)
				if err != nil {
					return nil, err
				}
				return &protocol.DefinitionParams{TextDocumentPositionParams: pos}, nil
			}),
		},
		{
			Name:        "find_references",
			Description: "List every reference to the symbol at a position, including its declaration.",
			Schema:      positionSchema(),
			Handler: forward("textDocument/references", func(args positionalArgs) (interface{}, error) {
				pos, err := docPos(args)
				if err != nil {
					return nil, err
				}
				return &protocol.ReferenceParams{
					TextDocumentPositionParams: pos,
					Context:                    protocol.ReferenceContext{IncludeDeclaration: true},
				}, nil
			}),
		},
		{
			Name:        "get_hover",
			Description: "Hover information for the symbol at a position.",
			Schema:      positionSchema(),
			Handler: forward("textDocument/hover", func(args positionalArgs) (interface{}, error) {
				pos, err := docPos(args)
				if err != nil {
					return nil, err
				}
				return &protocol.HoverParams{TextDocumentPositionParams: pos}, nil
			}),
		},
		{
			Name:        "prepare_call_hierarchy",
			Description: "Prepare call hierarchy items for the symbol at a position.",
			Schema:      positionSchema(),
			Handler: forward("textDocument/prepareCallHierarchy", func(args positionalArgs) (interface{}, error) {
				pos, err := docPos(args)
				if err != nil {
					return nil, err
				}
				return &protocol.CallHierarchyPrepareParams{TextDocumentPositionParams: pos}, nil
			}),
		},
		{
			Name:        "get_document_symbols",
			Description: "List the symbols declared in a document.",
			Schema:      pathSchema(),
			Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				var args pathArgs
				if err := json.Unmarshal(raw, &args); err != nil || args.Path == "" {
					return nil, apiErrorf(KindInvalidRequest, "path is required")
				}
				u, err := root.FileURI(args.Path)
				if err != nil {
					return nil, apiErrorf(KindInvalidRequest, err.Error())
				}
				var result json.RawMessage
				err = lsp.Request(ctx, args.Path, "textDocument/documentSymbol", &protocol.DocumentSymbolParams{
					TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(u)},
				}, &result)
				if err != nil {
					return nil, err
				}
				return result, nil
			},
		},
		{
			Name:        "format_document",
			Description: "Format a document with the owning language server.",
			Schema:      pathSchema(),
			Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				var args pathArgs
				if err := json.Unmarshal(raw, &args); err != nil || args.Path == "" {
					return nil, apiErrorf(KindInvalidRequest, "path is required")
				}
				u, err := root.FileURI(args.Path)
				if err != nil {
					return nil, apiErrorf(KindInvalidRequest, err.Error())
				}
				var result json.RawMessage
				err = lsp.Request(ctx, args.Path, "textDocument/formatting", &protocol.DocumentFormattingParams{
					TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(u)},
					Options:      protocol.FormattingOptions{TabSize: 4, InsertSpaces: true},
				}, &result)
				if err != nil {
					return nil, err
				}
				return result, nil
			},
		},
		{
			Name:        "get_diagnostics",
			Description: "Diagnostics for a document, as last published by its language server.",
			Schema:      pathSchema(),
			Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				var args pathArgs
				if err := json.Unmarshal(raw, &args); err != nil || args.Path == "" {
					return nil, apiErrorf(KindInvalidRequest, "path is required")
				}
				srv, err := lsp.ServerFor(ctx, args.Path)
				if err != nil {
					return nil, err
				}
				if err := srv.EnsureOpen(ctx, args.Path); err != nil {
					return nil, err
				}
				// Published diagnostics arrive asynchronously after open.
				deadline := time.After(3 * time.Second)
				ticker := time.NewTicker(50 * time.Millisecond)
				defer ticker.Stop()
				for {
					if diags := srv.Diagnostics(args.Path); diags != nil {
						return diags, nil
					}
					select {
					case <-ctx.Done():
						return nil, ctx.Err()
					case <-deadline:
						return []protocol.Diagnostic{}, nil
					case <-ticker.C:
					}
				}
			},
		},
		{
			Name:        "search_workspace_symbols",
			Description: "Search symbols across every configured language server.",
			Schema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string"},
				},
				"required": []string{"query"},
			},
			Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				var args queryArgs
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, apiErrorf(KindInvalidRequest, "malformed arguments: "+err.Error())
				}
				lsp.StartAll(ctx)
				search, err := lsp.WorkspaceSymbols(ctx, args.Query)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"symbols":   search.Symbols,
					"warnings":  search.Warnings,
					"truncated": search.Truncated,
				}, nil
			},
		},
	}
}
