package fileops

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pleme-io/typemill/plan"
	"github.com/pleme-io/typemill/textpos"
	"github.com/pleme-io/typemill/workspace"
)

func newService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	root, err := workspace.NewRoot(dir)
	require.NoError(t, err)
	return NewService(root, workspace.NewBus(), nil), dir
}

func write(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func read(t *testing.T, dir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func edit(sl, sc, el, ec uint32, text string) plan.TextEdit {
	return plan.TextEdit{
		Range: textpos.Range{
			Start: textpos.Position{Line: sl, Character: sc},
			End:   textpos.Position{Line: el, Character: ec},
		},
		NewText: text,
	}
}

func planFor(t *testing.T, s *Service, typ plan.Type, edits map[string][]plan.TextEdit) *plan.Plan {
	t.Helper()
	p := plan.New(typ, "test")
	for rel, es := range edits {
		p.AddEdits(rel, es...)
		data, err := s.Read(rel)
		require.NoError(t, err)
		p.FileChecksums[rel] = plan.Checksum(data)
	}
	require.NoError(t, p.Finalize())
	return p
}

func TestApplyEditsTwoFiles(t *testing.T) {
	s, dir := newService(t)
	write(t, dir, "src/a.ts", "export function oldName() {}\n")
	write(t, dir, "src/b.ts", "import { oldName } from './a';\noldName();\n")

	p := planFor(t, s, plan.Rename, map[string][]plan.TextEdit{
		"src/a.ts": {edit(0, 16, 0, 23, "newName")},
		"src/b.ts": {edit(0, 9, 0, 16, "newName"), edit(1, 0, 1, 7, "newName")},
	})

	res, err := s.Apply(context.Background(), p, plan.DefaultApplyOptions())
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, "export function newName() {}\n", read(t, dir, "src/a.ts"))
	require.Equal(t, "import { newName } from './a';\nnewName();\n", read(t, dir, "src/b.ts"))
	require.Equal(t, plan.Checksum([]byte("export function newName() {}\n")), res.Checksums["src/a.ts"])
}

func TestStalePlanRejected(t *testing.T) {
	s, dir := newService(t)
	write(t, dir, "src/a.ts", "export function oldName() {}\n")
	p := planFor(t, s, plan.Rename, map[string][]plan.TextEdit{
		"src/a.ts": {edit(0, 16, 0, 23, "newName")},
	})

	// Modify after planning.
	write(t, dir, "src/a.ts", "export function oldName() {}\n\n")

	_, err := s.Apply(context.Background(), p, plan.DefaultApplyOptions())
	var stale *StalePlanError
	require.ErrorAs(t, err, &stale)
	require.Equal(t, "src/a.ts", stale.Path)
	require.Equal(t, "export function oldName() {}\n\n", read(t, dir, "src/a.ts"))
}

func TestRollbackOnValidationFailure(t *testing.T) {
	s, dir := newService(t)
	write(t, dir, "src/x.rs", "fn x() {}\n")
	write(t, dir, "src/y.rs", "fn y() {}\n")

	p := planFor(t, s, plan.Transform, map[string][]plan.TextEdit{
		"src/x.rs": {edit(0, 3, 0, 4, "xx")},
		"src/y.rs": {edit(0, 3, 0, 4, "yy")},
	})

	opts := plan.DefaultApplyOptions()
	opts.Validation = &plan.Validation{Command: "false"}
	_, err := s.Apply(context.Background(), p, opts)

	var vf *ValidationFailedError
	require.ErrorAs(t, err, &vf)
	require.False(t, vf.Result.Passed)
	require.Equal(t, 1, vf.Result.ExitCode)
	require.Equal(t, "fn x() {}\n", read(t, dir, "src/x.rs"))
	require.Equal(t, "fn y() {}\n", read(t, dir, "src/y.rs"))
}

func TestValidationCapturesOutput(t *testing.T) {
	s, dir := newService(t)
	write(t, dir, "a.txt", "hello\n")
	p := planFor(t, s, plan.Transform, map[string][]plan.TextEdit{
		"a.txt": {edit(0, 0, 0, 5, "HELLO")},
	})

	opts := plan.DefaultApplyOptions()
	opts.Validation = &plan.Validation{Command: "sh", Args: []string{"-c", "echo ok"}}
	res, err := s.Apply(context.Background(), p, opts)
	require.NoError(t, err)
	require.True(t, res.Validation.Passed)
	require.Equal(t, "ok\n", res.Validation.Stdout)
}

func TestStderrDoesNotFailByDefault(t *testing.T) {
	s, dir := newService(t)
	write(t, dir, "a.txt", "hello\n")
	p := planFor(t, s, plan.Transform, map[string][]plan.TextEdit{
		"a.txt": {edit(0, 0, 0, 5, "HELLO")},
	})

	opts := plan.DefaultApplyOptions()
	opts.Validation = &plan.Validation{Command: "sh", Args: []string{"-c", "echo warn >&2"}}
	res, err := s.Apply(context.Background(), p, opts)
	require.NoError(t, err)
	require.True(t, res.Validation.Passed)

	// Same command with fail_on_stderr set rolls back.
	opts.Validation.FailOnStderr = true
	p2 := planFor(t, s, plan.Transform, map[string][]plan.TextEdit{
		"a.txt": {edit(0, 0, 0, 5, "AGAIN")},
	})
	_, err = s.Apply(context.Background(), p2, opts)
	var vf *ValidationFailedError
	require.ErrorAs(t, err, &vf)
	require.Equal(t, "HELLO\n", read(t, dir, "a.txt"))
}

func TestCreateAndDelete(t *testing.T) {
	s, dir := newService(t)
	write(t, dir, "old.txt", "content\n")

	p := plan.New(plan.Move, "file")
	p.Created = []string{"new.txt"}
	p.Deleted = []string{"old.txt"}
	p.AddEdits("new.txt", edit(0, 0, 0, 0, "content\n"))
	p.FileChecksums["new.txt"] = "absent"
	p.FileChecksums["old.txt"] = plan.Checksum([]byte("content\n"))
	require.NoError(t, p.Finalize())

	_, err := s.Apply(context.Background(), p, plan.DefaultApplyOptions())
	require.NoError(t, err)
	require.Equal(t, "content\n", read(t, dir, "new.txt"))
	require.NoFileExists(t, filepath.Join(dir, "old.txt"))
}

func TestCreateConflictIsStale(t *testing.T) {
	s, dir := newService(t)
	write(t, dir, "new.txt", "already here\n")

	p := plan.New(plan.Move, "file")
	p.Created = []string{"new.txt"}
	p.AddEdits("new.txt", edit(0, 0, 0, 0, "content\n"))
	p.FileChecksums["new.txt"] = "absent"
	require.NoError(t, p.Finalize())

	_, err := s.Apply(context.Background(), p, plan.DefaultApplyOptions())
	var stale *StalePlanError
	require.ErrorAs(t, err, &stale)
}

func TestDryRunWritesNothing(t *testing.T) {
	s, dir := newService(t)
	write(t, dir, "a.txt", "hello\n")
	p := planFor(t, s, plan.Transform, map[string][]plan.TextEdit{
		"a.txt": {edit(0, 0, 0, 5, "HELLO")},
	})

	opts := plan.DefaultApplyOptions()
	opts.DryRun = true
	res, err := s.Apply(context.Background(), p, opts)
	require.NoError(t, err)
	require.False(t, res.Applied)
	require.True(t, res.DryRun)
	require.Equal(t, "hello\n", read(t, dir, "a.txt"))
	require.Equal(t, plan.Checksum([]byte("HELLO\n")), res.Checksums["a.txt"])
}

func TestApplyPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	root, err := workspace.NewRoot(dir)
	require.NoError(t, err)
	bus := workspace.NewBus()
	var seen []workspace.FileChange
	bus.Subscribe(func(changes []workspace.FileChange) { seen = append(seen, changes...) })
	s := NewService(root, bus, nil)

	write(t, dir, "a.txt", "hello\n")
	p := planFor(t, s, plan.Transform, map[string][]plan.TextEdit{
		"a.txt": {edit(0, 0, 0, 5, "HELLO")},
	})
	_, err = s.Apply(context.Background(), p, plan.DefaultApplyOptions())
	require.NoError(t, err)
	require.Len(t, seen, 1)
	require.Equal(t, workspace.OriginApply, seen[0].Origin)
}

func TestSequentialEquivalence(t *testing.T) {
	// Applying the plan equals applying each edit to the text sequentially.
	s, dir := newService(t)
	write(t, dir, "a.txt", "abc def ghi\n")
	p := planFor(t, s, plan.Transform, map[string][]plan.TextEdit{
		"a.txt": {
			edit(0, 0, 0, 3, "ABC"),
			edit(0, 4, 0, 7, "DEF"),
			edit(0, 8, 0, 11, "GHI"),
		},
	})
	_, err := s.Apply(context.Background(), p, plan.DefaultApplyOptions())
	require.NoError(t, err)
	require.Equal(t, "ABC DEF GHI\n", read(t, dir, "a.txt"))
}

func TestUTF16RangesHitBytesCorrectly(t *testing.T) {
	s, dir := newService(t)
	write(t, dir, "a.txt", "héllo wörld\n")
	// Replace "wörld": starts at UTF-16 unit 6.
	p := planFor(t, s, plan.Transform, map[string][]plan.TextEdit{
		"a.txt": {edit(0, 6, 0, 11, "earth")},
	})
	_, err := s.Apply(context.Background(), p, plan.DefaultApplyOptions())
	require.NoError(t, err)
	require.Equal(t, "héllo earth\n", read(t, dir, "a.txt"))
}
