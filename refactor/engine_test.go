package refactor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pleme-io/typemill/adapters"
	"github.com/pleme-io/typemill/config"
	"github.com/pleme-io/typemill/fileops"
	"github.com/pleme-io/typemill/lspmux"
	"github.com/pleme-io/typemill/plan"
	"github.com/pleme-io/typemill/workspace"
)

// testEngine builds an engine over a temp workspace with no language
// servers configured, exercising the adapter-backed paths.
func testEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	root, err := workspace.NewRoot(dir)
	require.NoError(t, err)
	files := fileops.NewService(root, workspace.NewBus(), nil)
	cfg := &config.Config{}
	lsp := lspmux.NewRegistry(cfg, root, files.Read, nil)
	t.Cleanup(func() { lsp.Shutdown(context.Background()) })
	return NewEngine(lsp, files, adapters.NewRegistry(), &config.Presets{}, nil), dir
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, dir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func mustArgs(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func hashAll(t *testing.T, dir string) map[string]string {
	t.Helper()
	sums := map[string]string{}
	root := dir
	_ = filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		rel, _ := filepath.Rel(root, p)
		sums[rel] = plan.Checksum(data)
		return nil
	})
	return sums
}

func TestPlanHandlersNeverWrite(t *testing.T) {
	e, dir := testEngine(t)
	writeFile(t, dir, "src/a.ts", "import { x } from './b';\nconst value = 1 + 2;\nconsole.log(value);\n")
	writeFile(t, dir, "src/b.ts", "export const x = 1;\n")
	before := hashAll(t, dir)

	_, _ = e.Plan(context.Background(), plan.Extract, mustArgs(t, map[string]interface{}{
		"kind": "variable", "path": "src/a.ts", "name": "sum",
		"range": map[string]interface{}{
			"start": map[string]uint32{"line": 1, "character": 14},
			"end":   map[string]uint32{"line": 1, "character": 19},
		},
	}))
	_, _ = e.Plan(context.Background(), plan.Delete, mustArgs(t, map[string]interface{}{
		"kind": "unused_imports", "path": "src/a.ts",
	}))
	_, _ = e.Plan(context.Background(), plan.Move, mustArgs(t, map[string]interface{}{
		"kind": "file", "source": "src/b.ts", "destination": "src/c.ts",
	}))

	require.Equal(t, before, hashAll(t, dir))
}

func TestExtractVariablePlan(t *testing.T) {
	e, dir := testEngine(t)
	writeFile(t, dir, "src/a.ts", "const total = 1 + 2;\n")

	p, err := e.Plan(context.Background(), plan.Extract, mustArgs(t, map[string]interface{}{
		"kind": "variable", "path": "src/a.ts", "name": "sum",
		"range": map[string]interface{}{
			"start": map[string]uint32{"line": 0, "character": 14},
			"end":   map[string]uint32{"line": 0, "character": 19},
		},
	}))
	require.NoError(t, err)
	require.Equal(t, plan.Extract, p.Type)
	require.NotEmpty(t, p.FileChecksums["src/a.ts"])

	res, err := e.Apply(context.Background(), ApplyArgs{Plan: p})
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, "let sum = 1 + 2;\nconst total = sum;\n", readFile(t, dir, "src/a.ts"))
}

func TestInlineVariablePlan(t *testing.T) {
	e, dir := testEngine(t)
	writeFile(t, dir, "src/a.ts", "const sum = 1 + 2;\nconsole.log(sum);\nexport default sum;\n")

	p, err := e.Plan(context.Background(), plan.Inline, mustArgs(t, map[string]interface{}{
		"kind": "variable", "path": "src/a.ts",
		"position": map[string]uint32{"line": 0, "character": 6},
	}))
	require.NoError(t, err)

	_, err = e.Apply(context.Background(), ApplyArgs{Plan: p})
	require.NoError(t, err)
	require.Equal(t, "console.log(1 + 2);\nexport default 1 + 2;\n", readFile(t, dir, "src/a.ts"))
}

func TestFileRenameRewritesImports(t *testing.T) {
	e, dir := testEngine(t)
	writeFile(t, dir, "src/old.ts", "export function oldName() {}\n")
	writeFile(t, dir, "src/user.ts", "import { oldName } from './old';\noldName();\n")

	p, err := e.Plan(context.Background(), plan.Rename, mustArgs(t, map[string]interface{}{
		"kind":     "file",
		"selector": map[string]string{"path": "src/old.ts"},
		"new_name": "src/fresh.ts",
	}))
	require.NoError(t, err)
	require.Equal(t, []string{"src/fresh.ts"}, p.Created)
	require.Equal(t, []string{"src/old.ts"}, p.Deleted)
	require.Equal(t, "absent", p.FileChecksums["src/fresh.ts"])

	_, err = e.Apply(context.Background(), ApplyArgs{Plan: p})
	require.NoError(t, err)
	require.Equal(t, "export function oldName() {}\n", readFile(t, dir, "src/fresh.ts"))
	require.Equal(t, "import { oldName } from './fresh';\noldName();\n", readFile(t, dir, "src/user.ts"))
	require.NoFileExists(t, filepath.Join(dir, "src/old.ts"))
}

func TestDirectoryRenameBatchesImportRewrites(t *testing.T) {
	e, dir := testEngine(t)
	// Ten modules in the directory, all imported by one file: the importer
	// must come out rewritten exactly once per import, no duplicates.
	var imports, calls []string
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		writeFile(t, dir, "lib/old/"+name+".ts", "export function "+name+"() {}\n")
		imports = append(imports, "import { "+name+" } from './old/"+name+"';")
		calls = append(calls, name+"();")
	}
	writeFile(t, dir, "lib/main.ts", strings.Join(imports, "\n")+"\n"+strings.Join(calls, "\n")+"\n")

	p, err := e.Plan(context.Background(), plan.Rename, mustArgs(t, map[string]interface{}{
		"kind":     "directory",
		"selector": map[string]string{"path": "lib/old"},
		"new_name": "lib/new",
	}))
	require.NoError(t, err)
	require.Len(t, p.Created, 10)
	require.Len(t, p.Deleted, 10)

	_, err = e.Apply(context.Background(), ApplyArgs{Plan: p})
	require.NoError(t, err)

	main := readFile(t, dir, "lib/main.ts")
	require.Equal(t, 10, strings.Count(main, "from './new/"))
	require.NotContains(t, main, "'./old/")
	require.NotContains(t, main, "''")
	require.Equal(t, 20, strings.Count(main, "\n")) // no duplicated lines
}

func TestRustDirectoryRenameRewritesUseOnce(t *testing.T) {
	e, dir := testEngine(t)
	writeFile(t, dir, "crates/cb-old/lib.rs", "pub fn run() {}\n")
	writeFile(t, dir, "src/main.rs", "use cb_old::run;\nuse cb_old::util::helper;\n\nfn main() { run(); }\n")

	p, err := e.Plan(context.Background(), plan.Rename, mustArgs(t, map[string]interface{}{
		"kind":     "directory",
		"selector": map[string]string{"path": "crates/cb-old"},
		"new_name": "crates/cb-new",
	}))
	require.NoError(t, err)

	_, err = e.Apply(context.Background(), ApplyArgs{Plan: p})
	require.NoError(t, err)
	main := readFile(t, dir, "src/main.rs")
	require.Equal(t, "use cb_new::run;\nuse cb_new::util::helper;\n\nfn main() { run(); }\n", main)
	require.NotContains(t, main, "cb_new ::")
}

func TestSymbolRenameFallsBackWithoutServer(t *testing.T) {
	e, dir := testEngine(t)
	writeFile(t, dir, "src/a.ts", "export function oldName() {}\noldName();\n")

	p, err := e.Plan(context.Background(), plan.Rename, mustArgs(t, map[string]interface{}{
		"kind":     "symbol",
		"selector": map[string]interface{}{"path": "src/a.ts", "position": map[string]uint32{"line": 0, "character": 16}},
		"new_name": "newName",
	}))
	require.NoError(t, err)
	require.NotEmpty(t, p.Warnings)
	require.Equal(t, "lsp_unavailable", p.Warnings[0].Code)

	_, err = e.Apply(context.Background(), ApplyArgs{Plan: p})
	require.NoError(t, err)
	require.Equal(t, "export function newName() {}\nnewName();\n", readFile(t, dir, "src/a.ts"))
}

func TestReorderImportsAlphabetical(t *testing.T) {
	e, dir := testEngine(t)
	writeFile(t, dir, "src/a.ts", "import { z } from './zeta';\nimport { a } from './alpha';\nimport { m } from './mid';\n\nconsole.log(a, m, z);\n")

	p, err := e.Plan(context.Background(), plan.Reorder, mustArgs(t, map[string]interface{}{
		"kind": "imports", "path": "src/a.ts",
	}))
	require.NoError(t, err)

	_, err = e.Apply(context.Background(), ApplyArgs{Plan: p})
	require.NoError(t, err)
	require.Equal(t,
		"import { a } from './alpha';\nimport { m } from './mid';\nimport { z } from './zeta';\n\nconsole.log(a, m, z);\n",
		readFile(t, dir, "src/a.ts"))
}

func TestTransformQuotes(t *testing.T) {
	e, dir := testEngine(t)
	writeFile(t, dir, "src/a.ts", "import { a } from \"./alpha\";\nimport { b } from './beta';\n")

	p, err := e.Plan(context.Background(), plan.Transform, mustArgs(t, map[string]interface{}{
		"kind": "quotes", "path": "src/a.ts",
		"options": map[string]string{"quote": "single"},
	}))
	require.NoError(t, err)

	_, err = e.Apply(context.Background(), ApplyArgs{Plan: p})
	require.NoError(t, err)
	require.Equal(t, "import { a } from './alpha';\nimport { b } from './beta';\n", readFile(t, dir, "src/a.ts"))
}

func TestDeleteUnusedImports(t *testing.T) {
	e, dir := testEngine(t)
	writeFile(t, dir, "src/a.ts", "import { used } from './u';\nimport { unused } from './n';\nused();\n")

	p, err := e.Plan(context.Background(), plan.Delete, mustArgs(t, map[string]interface{}{
		"kind": "unused_imports", "path": "src/a.ts",
	}))
	require.NoError(t, err)

	_, err = e.Apply(context.Background(), ApplyArgs{Plan: p})
	require.NoError(t, err)
	require.Equal(t, "import { used } from './u';\nused();\n", readFile(t, dir, "src/a.ts"))
}

func TestApplyHonorsPresets(t *testing.T) {
	dir := t.TempDir()
	root, err := workspace.NewRoot(dir)
	require.NoError(t, err)
	files := fileops.NewService(root, workspace.NewBus(), nil)
	lsp := lspmux.NewRegistry(&config.Config{}, root, files.Read, nil)
	t.Cleanup(func() { lsp.Shutdown(context.Background()) })

	off := false
	presets := &config.Presets{Presets: map[string]config.ApplyDefaults{
		"aggressive": {ValidateChecksums: &off},
	}}
	e := NewEngine(lsp, files, adapters.NewRegistry(), presets, nil)

	writeFile(t, dir, "src/a.ts", "export function oldName() {}\noldName();\n")
	p, err := e.Plan(context.Background(), plan.Rename, mustArgs(t, map[string]interface{}{
		"kind":     "symbol",
		"selector": map[string]interface{}{"path": "src/a.ts", "position": map[string]uint32{"line": 0, "character": 16}},
		"new_name": "newName",
	}))
	require.NoError(t, err)

	// Invalidate the checksum, then apply with the aggressive preset: the
	// stale check is skipped. Content is unchanged so edits still land.
	p.FileChecksums["src/a.ts"] = "sha256:bogus"
	_, err = e.Apply(context.Background(), ApplyArgs{Plan: p, Preset: "aggressive"})
	require.NoError(t, err)

	_, err = e.Apply(context.Background(), ApplyArgs{Plan: p, Preset: "unknown"})
	var invalid *InvalidRequestError
	require.ErrorAs(t, err, &invalid)
}

func TestInvalidSelectorFailsPlan(t *testing.T) {
	e, _ := testEngine(t)
	_, err := e.Plan(context.Background(), plan.Rename, mustArgs(t, map[string]interface{}{
		"kind":     "symbol",
		"selector": map[string]interface{}{"path": "does/not/exist.ts", "position": map[string]uint32{"line": 0, "character": 0}},
		"new_name": "x",
	}))
	var invalid *InvalidRequestError
	require.ErrorAs(t, err, &invalid)
}
