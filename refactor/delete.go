package refactor

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pleme-io/typemill/adapters"
	"github.com/pleme-io/typemill/plan"
	"github.com/pleme-io/typemill/textpos"
)

// DeleteArgs parameterize delete.plan.
type DeleteArgs struct {
	Kind string `json:"kind"` // unused_imports | file
	Path string `json:"path"`
}

func (e *Engine) planDelete(ctx context.Context, raw json.RawMessage) (*plan.Plan, error) {
	var args DeleteArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, invalidf("path is required")
	}
	switch args.Kind {
	case "unused_imports":
		return e.planDeleteUnusedImports(&args)
	case "file":
		return e.planDeleteFile(&args)
	default:
		return nil, unsupportedf("delete kind %q", args.Kind)
	}
}

// planDeleteUnusedImports removes import statements none of whose bound
// names appear outside import statements.
func (e *Engine) planDeleteUnusedImports(args *DeleteArgs) (*plan.Plan, error) {
	adapter := e.adapters.ForPath(args.Path)
	if adapter == nil {
		return nil, unsupportedf("no parser for %s", args.Path)
	}
	text, err := e.readText(args.Path)
	if err != nil {
		return nil, err
	}
	parsed, err := adapter.Parse(text, args.Path)
	if err != nil {
		return nil, invalidf("parse %s: %v", args.Path, err)
	}
	imports := adapter.ExtractImports(parsed)

	p := plan.New(plan.Delete, "unused_imports")
	p.Metadata.Language = adapter.Language()
	ix := textpos.NewIndex(text)

	for _, imp := range imports {
		if imp.Kind == adapters.KindSideEffect {
			continue // side-effect imports are loads, not bindings
		}
		if importIsUsed(adapter, text, imp, imports) {
			continue
		}
		start := lineStartOffset(text, imp.Stmt.Start)
		end := imp.Stmt.End
		for end < len(text) && text[end] != '\n' {
			end++
		}
		if end < len(text) {
			end++
		}
		p.AddEdits(args.Path, plan.TextEdit{
			Range: textpos.Range{Start: ix.Pos(start), End: ix.Pos(end)},
		})
	}
	if len(p.Edits) == 0 {
		p.Warn("nothing_to_do", "no unused imports found")
	}
	return p, nil
}

// importIsUsed reports whether any name bound by the import occurs outside
// an import statement.
func importIsUsed(adapter adapters.Adapter, text string, imp adapters.ImportInfo, all []adapters.ImportInfo) bool {
	names := boundNames(imp)
	if len(names) == 0 {
		return true // nothing provably unused
	}
	ix := textpos.NewIndex(text)
	for _, name := range names {
		for _, r := range adapter.FindReferences(text, name) {
			off, _, err := ix.Span(r)
			if err != nil {
				continue
			}
			inside := false
			for _, other := range all {
				if off >= other.Stmt.Start && off < other.Stmt.End {
					inside = true
					break
				}
			}
			if !inside {
				return true
			}
		}
	}
	return false
}

// boundNames lists the local identifiers an import introduces.
func boundNames(imp adapters.ImportInfo) []string {
	var names []string
	for _, n := range imp.Names {
		name := n.Alias
		if name == "" {
			name = n.Name
		}
		if name != "" && name != "*" {
			names = append(names, name)
		}
	}
	if len(names) == 0 && imp.Kind == adapters.KindModule {
		// `import a.b` binds the first dotted segment; `use x::y` binds y;
		// a Go path binds its base.
		module := imp.ModulePath
		switch {
		case strings.Contains(module, "::"):
			parts := strings.Split(module, "::")
			names = append(names, parts[len(parts)-1])
		case strings.Contains(module, "/"):
			parts := strings.Split(module, "/")
			names = append(names, parts[len(parts)-1])
		case strings.Contains(module, "."):
			names = append(names, strings.SplitN(module, ".", 2)[0])
		default:
			names = append(names, module)
		}
	}
	return names
}

// planDeleteFile removes a file and the import statements that reference it.
func (e *Engine) planDeleteFile(args *DeleteArgs) (*plan.Plan, error) {
	rel := args.Path
	if !e.files.Exists(rel) {
		return nil, invalidf("file %s missing", rel)
	}
	p := plan.New(plan.Delete, "file")
	p.Deleted = append(p.Deleted, rel)

	err := e.walkFiles(func(other string) {
		if other == rel {
			return
		}
		adapter := e.adapters.ForPath(other)
		if adapter == nil {
			return
		}
		text, err := e.readText(other)
		if err != nil {
			return
		}
		parsed, err := adapter.Parse(text, other)
		if err != nil {
			return
		}
		ix := textpos.NewIndex(text)
		for _, imp := range adapter.ExtractImports(parsed) {
			target, ok := e.resolveImport(adapter.Language(), other, imp.ModulePath)
			if !ok || target != rel {
				continue
			}
			start := lineStartOffset(text, imp.Stmt.Start)
			end := imp.Stmt.End
			for end < len(text) && text[end] != '\n' {
				end++
			}
			if end < len(text) {
				end++
			}
			p.AddEdits(other, plan.TextEdit{
				Range: textpos.Range{Start: ix.Pos(start), End: ix.Pos(end)},
			})
			p.Warn("importer_updated", other+" imported the deleted file; its import was removed, uses may remain")
		}
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
