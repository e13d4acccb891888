package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pleme-io/typemill/adapters"
	"github.com/pleme-io/typemill/config"
	"github.com/pleme-io/typemill/fileops"
	"github.com/pleme-io/typemill/lspmux"
	"github.com/pleme-io/typemill/plan"
	"github.com/pleme-io/typemill/refactor"
	"github.com/pleme-io/typemill/workspace"
)

type recordingSink struct {
	spans []Span
}

func (r *recordingSink) Record(span Span) { r.spans = append(r.spans, span) }

func testToolset(t *testing.T) (*Toolset, string) {
	t.Helper()
	dir := t.TempDir()
	root, err := workspace.NewRoot(dir)
	require.NoError(t, err)
	files := fileops.NewService(root, workspace.NewBus(), nil)
	lsp := lspmux.NewRegistry(&config.Config{}, root, files.Read, nil)
	t.Cleanup(func() { lsp.Shutdown(context.Background()) })
	reg := adapters.NewRegistry()
	engine := refactor.NewEngine(lsp, files, reg, &config.Presets{}, nil)
	return &Toolset{
		Root:     root,
		LSP:      lsp,
		Files:    files,
		Engine:   engine,
		Adapters: reg,
	}, dir
}

func newDispatcher(t *testing.T) (*Dispatcher, *recordingSink, string) {
	t.Helper()
	ts, dir := testToolset(t)
	sink := &recordingSink{}
	return NewDispatcher(BuildRegistry(ts), sink, nil), sink, dir
}

func writeWorkspaceFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func call(t *testing.T, d *Dispatcher, method string, params interface{}) (interface{}, *ApiError) {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return d.Dispatch(context.Background(), method, "1", raw)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewToolRegistry()
	require.NoError(t, r.Register(&ToolDefinition{Name: "x", Handler: func(context.Context, json.RawMessage) (interface{}, error) { return nil, nil }}))
	err := r.Register(&ToolDefinition{Name: "x", Handler: func(context.Context, json.RawMessage) (interface{}, error) { return nil, nil }})
	require.ErrorContains(t, err, "already registered")
	require.Panics(t, func() {
		r.MustRegister(&ToolDefinition{Name: "x", Handler: func(context.Context, json.RawMessage) (interface{}, error) { return nil, nil }})
	})
}

func TestToolsListHidesInternalByDefault(t *testing.T) {
	d, _, _ := newDispatcher(t)
	_, apiErr := call(t, d, "initialize", map[string]interface{}{})
	require.Nil(t, apiErr)

	result, apiErr := call(t, d, "tools/list", nil)
	require.Nil(t, apiErr)
	names := listedNames(t, result)
	require.Contains(t, names, "rename.plan")
	require.Contains(t, names, "workspace.apply_edit")
	require.Contains(t, names, "find_references")
	require.NotContains(t, names, "registry.describe")
}

func TestToolsListShowsInternalWithCapability(t *testing.T) {
	d, _, _ := newDispatcher(t)
	_, apiErr := call(t, d, "initialize", map[string]interface{}{
		"capabilities": map[string]interface{}{
			"experimental": map[string]interface{}{"internalTools": true},
		},
	})
	require.Nil(t, apiErr)

	result, apiErr := call(t, d, "tools/list", nil)
	require.Nil(t, apiErr)
	require.Contains(t, listedNames(t, result), "registry.describe")
}

func listedNames(t *testing.T, result interface{}) []string {
	t.Helper()
	m, ok := result.(map[string]interface{})
	require.True(t, ok)
	tools, ok := m["tools"].([]map[string]interface{})
	require.True(t, ok)
	var names []string
	for _, tool := range tools {
		names = append(names, tool["name"].(string))
	}
	return names
}

func TestUnknownToolIsMethodNotFound(t *testing.T) {
	d, _, _ := newDispatcher(t)
	_, apiErr := call(t, d, "tools/call", map[string]interface{}{"name": "nope", "arguments": map[string]interface{}{}})
	require.NotNil(t, apiErr)
	require.Equal(t, KindMethodNotFound, apiErr.Kind)
	require.EqualValues(t, -32601, apiErr.code())
}

func TestUnknownMethodIsMethodNotFound(t *testing.T) {
	d, _, _ := newDispatcher(t)
	_, apiErr := d.Dispatch(context.Background(), "bogus/method", "1", nil)
	require.NotNil(t, apiErr)
	require.Equal(t, KindMethodNotFound, apiErr.Kind)
}

func TestPlanApplyRoundTripThroughDispatcher(t *testing.T) {
	d, sink, dir := newDispatcher(t)
	writeWorkspaceFile(t, dir, "src/a.ts", "export function oldName() {}\noldName();\n")

	result, apiErr := call(t, d, "tools/call", map[string]interface{}{
		"name": "rename.plan",
		"arguments": map[string]interface{}{
			"kind":     "symbol",
			"selector": map[string]interface{}{"path": "src/a.ts", "position": map[string]uint32{"line": 0, "character": 16}},
			"new_name": "newName",
		},
	})
	require.Nil(t, apiErr)
	content := result.(map[string]interface{})["content"]
	p, ok := content.(*plan.Plan)
	require.True(t, ok)
	require.Equal(t, plan.Rename, p.Type)

	_, apiErr = call(t, d, "tools/call", map[string]interface{}{
		"name":      "workspace.apply_edit",
		"arguments": map[string]interface{}{"plan": p},
	})
	require.Nil(t, apiErr)

	data, err := os.ReadFile(filepath.Join(dir, "src/a.ts"))
	require.NoError(t, err)
	require.Equal(t, "export function newName() {}\nnewName();\n", string(data))

	require.Len(t, sink.spans, 2)
	require.Equal(t, "rename.plan", sink.spans[0].Tool)
	require.Equal(t, "ok", sink.spans[0].Outcome)
}

func TestStalePlanSurfacesStructuredData(t *testing.T) {
	d, _, dir := newDispatcher(t)
	writeWorkspaceFile(t, dir, "src/a.ts", "export function oldName() {}\noldName();\n")

	result, apiErr := call(t, d, "tools/call", map[string]interface{}{
		"name": "rename.plan",
		"arguments": map[string]interface{}{
			"kind":     "symbol",
			"selector": map[string]interface{}{"path": "src/a.ts", "position": map[string]uint32{"line": 0, "character": 16}},
			"new_name": "newName",
		},
	})
	require.Nil(t, apiErr)
	p := result.(map[string]interface{})["content"].(*plan.Plan)

	// External modification between plan and apply.
	writeWorkspaceFile(t, dir, "src/a.ts", "export function oldName() {}\noldName();\n\n")

	_, apiErr = call(t, d, "tools/call", map[string]interface{}{
		"name":      "workspace.apply_edit",
		"arguments": map[string]interface{}{"plan": p},
	})
	require.NotNil(t, apiErr)
	require.Equal(t, KindStalePlan, apiErr.Kind)
	info := apiErr.Data.(map[string]string)
	require.Equal(t, "src/a.ts", info["path"])
	require.NotEqual(t, info["expected"], info["actual"])

	// File untouched by the failed apply.
	data, err := os.ReadFile(filepath.Join(dir, "src/a.ts"))
	require.NoError(t, err)
	require.Equal(t, "export function oldName() {}\noldName();\n\n", string(data))
}

func TestDependenciesTool(t *testing.T) {
	d, _, dir := newDispatcher(t)
	writeWorkspaceFile(t, dir, "src/a.ts", "import { b } from './b';\nb();\n")
	writeWorkspaceFile(t, dir, "src/b.ts", "export function b() {}\n")

	result, apiErr := call(t, d, "tools/call", map[string]interface{}{
		"name": "analyze.dependencies", "arguments": map[string]interface{}{},
	})
	require.Nil(t, apiErr)
	graph := result.(map[string]interface{})["content"].(*dependencyGraph)
	require.Equal(t, []string{"src/b.ts"}, graph.Files["src/a.ts"])
	require.Equal(t, []string{"src/a.ts"}, graph.Reverse["src/b.ts"])
}

func TestLspForwardWithoutServersIsUnavailable(t *testing.T) {
	d, sink, dir := newDispatcher(t)
	writeWorkspaceFile(t, dir, "src/a.ts", "const x = 1;\n")

	_, apiErr := call(t, d, "tools/call", map[string]interface{}{
		"name": "find_references",
		"arguments": map[string]interface{}{
			"path":     "src/a.ts",
			"position": map[string]uint32{"line": 0, "character": 6},
		},
	})
	require.NotNil(t, apiErr)
	require.Equal(t, KindLspUnavailable, apiErr.Kind)
	require.Equal(t, string(KindLspUnavailable), sink.spans[len(sink.spans)-1].Outcome)
}

func TestToApiErrorClassification(t *testing.T) {
	require.Equal(t, KindTimeout, toApiError(lspmux.ErrTimeout).Kind)
	require.Equal(t, KindLspUnavailable, toApiError(lspmux.ErrUnavailable).Kind)
	require.Equal(t, KindInvalidRequest, toApiError(&refactor.InvalidRequestError{Reason: "x"}).Kind)
	require.Equal(t, KindUnsupported, toApiError(&refactor.UnsupportedError{Reason: "x"}).Kind)
	require.Equal(t, KindStalePlan, toApiError(&fileops.StalePlanError{Path: "p"}).Kind)
	require.Equal(t, KindInternal, toApiError(errors.New("boom")).Kind)
}
