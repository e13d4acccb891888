package refactor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"go.lsp.dev/protocol"

	"github.com/pleme-io/typemill/lspmux"
	"github.com/pleme-io/typemill/plan"
	"github.com/pleme-io/typemill/textpos"
)

// RenameArgs parameterize rename.plan.
type RenameArgs struct {
	Kind     string   `json:"kind"` // symbol | file | directory
	Selector Selector `json:"selector"`
	NewName  string   `json:"new_name"`
	Options  struct {
		UpdateImports *bool `json:"update_imports,omitempty"`
	} `json:"options"`
}

func (a *RenameArgs) updateImports() bool {
	return a.Options.UpdateImports == nil || *a.Options.UpdateImports
}

func (e *Engine) planRename(ctx context.Context, raw json.RawMessage) (*plan.Plan, error) {
	var args RenameArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.NewName == "" {
		return nil, invalidf("new_name is required")
	}
	if args.Selector.Path == "" {
		return nil, invalidf("selector.path is required")
	}

	switch args.Kind {
	case "symbol", "":
		return e.planSymbolRename(ctx, &args)
	case "file":
		return e.planPathRename(ctx, &args, false)
	case "directory":
		return e.planPathRename(ctx, &args, true)
	default:
		return nil, invalidf("unknown rename kind %q", args.Kind)
	}
}

// planSymbolRename resolves the selector on the owning language server and
// normalizes the server's workspace edit. When the server declines or is
// unavailable, the adapter's text scan takes over for the selected file.
func (e *Engine) planSymbolRename(ctx context.Context, args *RenameArgs) (*plan.Plan, error) {
	if args.Selector.Position == nil {
		return nil, invalidf("symbol rename needs selector.position")
	}
	rel := args.Selector.Path
	if !e.files.Exists(rel) {
		return nil, invalidf("target file %s missing", rel)
	}

	p := plan.New(plan.Rename, "symbol")
	if adapter := e.adapters.ForPath(rel); adapter != nil {
		p.Metadata.Language = adapter.Language()
	}

	we, warning, err := e.lspRename(ctx, args)
	if err != nil {
		if !errors.Is(err, lspmux.ErrUnavailable) {
			return nil, err
		}
		// Fall back to a single-file text scan.
		if err := e.textRename(args, p); err != nil {
			return nil, err
		}
		p.Warn("lsp_unavailable", "language server unavailable; rename limited to the selected file")
		return p, nil
	}
	if warning != "" {
		// The server declined prepareRename: fall back to the text scan.
		if err := e.textRename(args, p); err != nil {
			return nil, err
		}
		p.Warn("prepare_declined", warning)
		return p, nil
	}

	fileEdits, warnings := e.normalizeWorkspaceEdit(we)
	for _, w := range warnings {
		p.Warn("edit_skipped", w)
	}
	if len(fileEdits) == 0 {
		return nil, invalidf("server produced no edits for rename at %s:%d:%d",
			rel, args.Selector.Position.Line, args.Selector.Position.Character)
	}
	for target, edits := range fileEdits {
		p.AddEdits(target, edits...)
	}
	return p, nil
}

// lspRename runs prepareRename (when advertised) then rename on the owning
// server. The warning return carries a declined prepare; no rename request is
// sent in that case.
func (e *Engine) lspRename(ctx context.Context, args *RenameArgs) (*protocol.WorkspaceEdit, string, error) {
	rel := args.Selector.Path
	srv, err := e.lsp.ServerFor(ctx, rel)
	if err != nil {
		return nil, "", err
	}
	if err := srv.EnsureOpen(ctx, rel); err != nil {
		return nil, "", err
	}
	u, err := e.files.Root().FileURI(rel)
	if err != nil {
		return nil, "", err
	}
	docPos := protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(u)},
		Position:     toLSPPosition(*args.Selector.Position),
	}

	if srv.HasCapability("renameProvider.prepareProvider") {
		var prep json.RawMessage
		err := srv.Call(ctx, "textDocument/prepareRename", &docPos, &prep)
		if err != nil || string(prep) == "null" {
			return nil, fmt.Sprintf("prepareRename declined at %s:%d:%d; rename limited to the selected file",
				rel, args.Selector.Position.Line, args.Selector.Position.Character), nil
		}
	}

	var we protocol.WorkspaceEdit
	if err := srv.Call(ctx, "textDocument/rename", &protocol.RenameParams{
		TextDocumentPositionParams: docPos,
		NewName:                    args.NewName,
	}, &we); err != nil {
		return nil, "", err
	}
	return &we, "", nil
}

// textRename is the LSP-less fallback: adapter word scan over one file.
func (e *Engine) textRename(args *RenameArgs, p *plan.Plan) error {
	rel := args.Selector.Path
	adapter := e.adapters.ForPath(rel)
	if adapter == nil {
		return unsupportedf("no language server and no parser for %s", rel)
	}
	text, err := e.readText(rel)
	if err != nil {
		return err
	}
	symbol, err := symbolAt(text, *args.Selector.Position)
	if err != nil {
		return invalidf("no symbol at %s:%d:%d", rel, args.Selector.Position.Line, args.Selector.Position.Character)
	}
	for _, r := range adapter.FindReferences(text, symbol) {
		p.AddEdits(rel, plan.TextEdit{Range: r, NewText: args.NewName})
	}
	if p.FileFor(rel) == nil {
		return invalidf("no references to %q found in %s", symbol, rel)
	}
	return nil
}

// planPathRename renames a file or directory, rewriting the import
// statements of every referencing file exactly once.
func (e *Engine) planPathRename(ctx context.Context, args *RenameArgs, isDir bool) (*plan.Plan, error) {
	kind := "file"
	if isDir {
		kind = "directory"
	}
	p := plan.New(plan.Rename, kind)

	move := &pathMove{OldPath: args.Selector.Path, NewPath: args.NewName}
	if err := e.buildPathMove(p, move, isDir, args.updateImports()); err != nil {
		return nil, err
	}
	return p, nil
}

// symbolAt extracts the identifier under an LSP position.
func symbolAt(text string, pos textpos.Position) (string, error) {
	ix := textpos.NewIndex(text)
	off, err := ix.Offset(pos)
	if err != nil {
		return "", err
	}
	isWord := func(b byte) bool {
		return b == '_' || b == '$' ||
			(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
	}
	start := off
	for start > 0 && isWord(text[start-1]) {
		start--
	}
	end := off
	for end < len(text) && isWord(text[end]) {
		end++
	}
	if start == end {
		return "", fmt.Errorf("no identifier at offset %d", off)
	}
	return text[start:end], nil
}

// join resolves a relative import segment against a directory, staying in
// POSIX form.
func join(dir, rel string) string {
	return path.Clean(path.Join(dir, rel))
}
