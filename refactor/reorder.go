package refactor

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/pleme-io/typemill/adapters"
	"github.com/pleme-io/typemill/plan"
	"github.com/pleme-io/typemill/textpos"
)

// ReorderArgs parameterize reorder.plan.
type ReorderArgs struct {
	Kind     string           `json:"kind"` // imports | parameters
	Path     string           `json:"path"`
	Position *textpos.Position `json:"position,omitempty"` // parameters: the signature line
	NewOrder []int            `json:"new_order,omitempty"`
	Strategy string           `json:"strategy,omitempty"` // imports: alphabetical (default)
}

func (e *Engine) planReorder(ctx context.Context, raw json.RawMessage) (*plan.Plan, error) {
	var args ReorderArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, invalidf("path is required")
	}
	switch args.Kind {
	case "imports":
		return e.planReorderImports(&args)
	case "parameters":
		return e.planReorderParameters(&args)
	default:
		return nil, unsupportedf("reorder kind %q", args.Kind)
	}
}

// planReorderImports sorts contiguous runs of import statements by module
// path. Runs are kept separate so grouping blank lines survive.
func (e *Engine) planReorderImports(args *ReorderArgs) (*plan.Plan, error) {
	if args.Strategy != "" && args.Strategy != "alphabetical" {
		return nil, unsupportedf("reorder strategy %q", args.Strategy)
	}
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

	p := plan.New(plan.Reorder, "imports")
	p.Metadata.Language = adapter.Language()
	if len(imports) < 2 {
		p.Warn("nothing_to_do", "fewer than two imports")
		return p, nil
	}

	ix := textpos.NewIndex(text)
	for _, run := range contiguousRuns(text, imports) {
		sorted := append([]importStmt(nil), run...)
		sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].module < sorted[b].module })

		changed := false
		var repl strings.Builder
		for i, imp := range sorted {
			repl.WriteString(text[imp.stmtStart:imp.stmtEnd])
			if imp.stmtStart != run[i].stmtStart {
				changed = true
			}
		}
		if !changed {
			continue
		}
		p.AddEdits(args.Path, plan.TextEdit{
			Range: textpos.Range{
				Start: ix.Pos(run[0].stmtStart),
				End:   ix.Pos(run[len(run)-1].stmtEnd),
			},
			NewText: repl.String(),
		})
	}
	if len(p.Edits) == 0 {
		p.Warn("nothing_to_do", "imports already ordered")
	}
	return p, nil
}

type importStmt struct {
	module    string
	stmtStart int
	stmtEnd   int // includes the line terminator
}

// contiguousRuns groups imports whose statements sit on adjacent lines.
func contiguousRuns(text string, imports []adapters.ImportInfo) [][]importStmt {
	stmts := make([]importStmt, 0, len(imports))
	for _, imp := range imports {
		start := lineStartOffset(text, imp.Stmt.Start)
		end := imp.Stmt.End
		for end < len(text) && text[end] != '\n' {
			end++
		}
		if end < len(text) {
			end++
		}
		stmts = append(stmts, importStmt{module: imp.ModulePath, stmtStart: start, stmtEnd: end})
	}
	sort.Slice(stmts, func(a, b int) bool { return stmts[a].stmtStart < stmts[b].stmtStart })

	var runs [][]importStmt
	var cur []importStmt
	for _, s := range stmts {
		if len(cur) > 0 && cur[len(cur)-1].stmtEnd != s.stmtStart {
			runs = append(runs, cur)
			cur = nil
		}
		// Imports sharing a statement (one per module span) collapse.
		if len(cur) > 0 && cur[len(cur)-1].stmtStart == s.stmtStart {
			continue
		}
		cur = append(cur, s)
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}

// planReorderParameters permutes a call signature's parameter list on one
// line according to new_order.
func (e *Engine) planReorderParameters(args *ReorderArgs) (*plan.Plan, error) {
	if args.Position == nil {
		return nil, invalidf("parameters reorder needs position")
	}
	if len(args.NewOrder) == 0 {
		return nil, invalidf("parameters reorder needs new_order")
	}
	text, err := e.readText(args.Path)
	if err != nil {
		return nil, err
	}
	ix := textpos.NewIndex(text)
	off, err := ix.Offset(*args.Position)
	if err != nil {
		return nil, invalidf("bad position: %v", err)
	}
	open := strings.IndexByte(text[off:], '(')
	if open < 0 {
		return nil, invalidf("no parameter list at position")
	}
	open += off
	closeIdx := matchingParen(text, open)
	if closeIdx < 0 {
		return nil, invalidf("unbalanced parameter list")
	}
	params := splitTopLevel(text[open+1:closeIdx], ',')
	if len(params) != len(args.NewOrder) {
		return nil, invalidf("new_order has %d entries for %d parameters", len(args.NewOrder), len(params))
	}
	reordered := make([]string, len(params))
	for i, from := range args.NewOrder {
		if from < 0 || from >= len(params) {
			return nil, invalidf("new_order index %d out of range", from)
		}
		reordered[i] = strings.TrimSpace(params[from])
	}

	p := plan.New(plan.Reorder, "parameters")
	p.AddEdits(args.Path, plan.TextEdit{
		Range:   textpos.Range{Start: ix.Pos(open + 1), End: ix.Pos(closeIdx)},
		NewText: strings.Join(reordered, ", "),
	})
	return p, nil
}

func matchingParen(text string, open int) int {
	depth := 0
	for i := open; i < len(text); i++ {
		switch text[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	last := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{', '<':
			depth++
		case ')', ']', '}', '>':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	parts = append(parts, s[last:])
	return parts
}
