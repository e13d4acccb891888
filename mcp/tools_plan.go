package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/pleme-io/typemill/adapters"
	"github.com/pleme-io/typemill/cache"
	"github.com/pleme-io/typemill/fileops"
	"github.com/pleme-io/typemill/lspmux"
	"github.com/pleme-io/typemill/plan"
	"github.com/pleme-io/typemill/refactor"
	"github.com/pleme-io/typemill/workspace"
)

// Toolset carries everything the tool handlers need.
type Toolset struct {
	Root     *workspace.Root
	LSP      *lspmux.Registry
	Files    *fileops.Service
	Engine   *refactor.Engine
	Adapters *adapters.Registry
	Cache    *cache.Store
	Logger   *slog.Logger
}

// BuildRegistry registers the full tool surface. Duplicate names are a
// programming error and abort startup.
func BuildRegistry(ts *Toolset) *ToolRegistry {
	registry := NewToolRegistry()
	registry.MustRegister(lspTools(ts.LSP, ts.Root)...)
	registry.MustRegister(planTools(ts.Engine)...)
	registry.MustRegister(
		applyTool(ts.Engine),
		dependenciesTool(ts),
		registryDescribeTool(registry),
	)
	return registry
}

var planFamilies = []struct {
	tool        string
	family      plan.Type
	description string
}{
	{"rename.plan", plan.Rename, "Plan a rename of a symbol, file, or directory, including import updates."},
	{"extract.plan", plan.Extract, "Plan extraction of a function, variable, constant, or type alias."},
	{"inline.plan", plan.Inline, "Plan inlining a binding into its use sites."},
	{"move.plan", plan.Move, "Plan moving a file, directory, or symbol, including import updates."},
	{"reorder.plan", plan.Reorder, "Plan reordering imports or parameters."},
	{"transform.plan", plan.Transform, "Plan a mechanical transform such as quote style or line endings."},
	{"delete.plan", plan.Delete, "Plan deleting unused imports or a file."},
}

func planTools(engine *refactor.Engine) []*ToolDefinition {
	defs := make([]*ToolDefinition, 0, len(planFamilies))
	for _, fam := range planFamilies {
		defs = append(defs, &ToolDefinition{
			Name:        fam.tool,
			Description: fam.description + " Produces a plan; nothing is written until workspace.apply_edit.",
			Schema:      map[string]interface{}{"type": "object"},
			Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				return engine.Plan(ctx, fam.family, raw)
			},
		})
	}
	return defs
}

func applyTool(engine *refactor.Engine) *ToolDefinition {
	return &ToolDefinition{
		Name:        "workspace.apply_edit",
		Description: "Apply a previously produced plan atomically, verifying file checksums and rolling back on failure.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"plan":               map[string]interface{}{"type": "object"},
				"preset":             map[string]interface{}{"type": "string"},
				"dry_run":            map[string]interface{}{"type": "boolean"},
				"validate_checksums": map[string]interface{}{"type": "boolean"},
				"rollback_on_error":  map[string]interface{}{"type": "boolean"},
				"validation":         map[string]interface{}{"type": "object"},
			},
			"required": []string{"plan"},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var args refactor.ApplyArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, apiErrorf(KindInvalidRequest, "malformed arguments: "+err.Error())
			}
			return engine.Apply(ctx, args)
		},
	}
}

// dependencyGraph is the analyze.dependencies payload.
type dependencyGraph struct {
	Files   map[string][]string `json:"files"`   // path -> resolved workspace imports
	Reverse map[string][]string `json:"reverse"` // path -> importers
}

// dependenciesTool scans the workspace import graph, caching per-file parse
// products by content hash.
func dependenciesTool(ts *Toolset) *ToolDefinition {
	return &ToolDefinition{
		Name:        "analyze.dependencies",
		Description: "Build the workspace import graph: which files import which.",
		Schema:      map[string]interface{}{"type": "object"},
		Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			graph := &dependencyGraph{
				Files:   map[string][]string{},
				Reverse: map[string][]string{},
			}
			err := ts.Engine.WalkImports(func(rel string, imports []string) {
				sort.Strings(imports)
				graph.Files[rel] = imports
				for _, target := range imports {
					graph.Reverse[target] = append(graph.Reverse[target], rel)
				}
			}, ts.Cache)
			if err != nil {
				return nil, err
			}
			for _, importers := range graph.Reverse {
				sort.Strings(importers)
			}
			return graph, nil
		},
	}
}

// registryDescribeTool is internal-only: it lists every registered tool,
// including hidden ones, for debugging clients.
func registryDescribeTool(registry *ToolRegistry) *ToolDefinition {
	return &ToolDefinition{
		Name:        "registry.describe",
		Description: "List every registered tool, including internal ones.",
		Schema:      map[string]interface{}{"type": "object"},
		Internal:    true,
		Handler: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			return map[string]interface{}{"tools": registry.Names()}, nil
		},
	}
}
