package refactor

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/pleme-io/typemill/plan"
	"github.com/pleme-io/typemill/textpos"
)

// InlineArgs parameterize inline.plan.
type InlineArgs struct {
	Kind      string           `json:"kind"` // variable | constant
	Path      string           `json:"path"`
	Position  textpos.Position `json:"position"`
	InlineAll bool             `json:"inline_all,omitempty"`
}

// planInline removes a single-assignment binding and substitutes its
// initializer at every use site in the file. Declarations the scanner cannot
// prove single-assignment produce a warning and inline only when inline_all
// is set.
func (e *Engine) planInline(ctx context.Context, raw json.RawMessage) (*plan.Plan, error) {
	var args InlineArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, invalidf("path is required")
	}
	switch args.Kind {
	case "variable", "constant", "":
	default:
		return nil, unsupportedf("inline kind %q", args.Kind)
	}
	adapter := e.adapters.ForPath(args.Path)
	if adapter == nil {
		return nil, unsupportedf("no parser for %s", args.Path)
	}
	text, err := e.readText(args.Path)
	if err != nil {
		return nil, err
	}
	name, err := symbolAt(text, args.Position)
	if err != nil {
		return nil, invalidf("no symbol at %s:%d:%d", args.Path, args.Position.Line, args.Position.Character)
	}

	decl := findDeclaration(text, name)
	if decl == nil {
		return nil, invalidf("no declaration of %q found in %s", name, args.Path)
	}

	refs := adapter.FindReferences(text, name)
	ix := textpos.NewIndex(text)

	p := plan.New(plan.Inline, orDefault(args.Kind, "variable"))
	p.Metadata.Language = adapter.Language()

	assignments := countAssignments(text, name)
	if assignments > 1 {
		if !args.InlineAll {
			return nil, invalidf("%q is assigned %d times; pass inline_all to substitute the first initializer", name, assignments)
		}
		p.Warn("multiple_assignments", name+" is reassigned; all uses get the first initializer")
	}

	// Remove the declaration line entirely.
	p.AddEdits(args.Path, plan.TextEdit{
		Range: textpos.Range{Start: ix.Pos(decl.lineStart), End: ix.Pos(decl.lineEnd)},
	})

	inlined := 0
	for _, r := range refs {
		start, end, err := ix.Span(r)
		if err != nil {
			continue
		}
		// Skip occurrences inside the removed declaration line.
		if start >= decl.lineStart && end <= decl.lineEnd {
			continue
		}
		p.AddEdits(args.Path, plan.TextEdit{Range: r, NewText: decl.initializer})
		inlined++
	}
	if inlined == 0 {
		p.Warn("no_uses", name+" has no uses outside its declaration; only the declaration is removed")
	}
	return p, nil
}

type declaration struct {
	lineStart   int
	lineEnd     int // includes the terminator
	initializer string
}

var declPatterns = []string{
	`^[ \t]*(?:const|let|var)[ \t]+%s[ \t]*(?::[^=\n]+)?=[ \t]*(.+?);?[ \t]*$`, // ts/js
	`^[ \t]*%s[ \t]*:?=[ \t]*(.+?);?[ \t]*$`,                                   // py / go short form
	`^[ \t]*let[ \t]+(?:mut[ \t]+)?%s[ \t]*(?::[^=\n]+)?=[ \t]*(.+?);[ \t]*$`,  // rust
	`^[ \t]*const[ \t]+%s[ \t]*(?::[^=\n]+)?=[ \t]*(.+?);?[ \t]*$`,             // go const
}

// findDeclaration locates the first line declaring name with an initializer.
func findDeclaration(text, name string) *declaration {
	quoted := regexp.QuoteMeta(name)
	lines := strings.SplitAfter(text, "\n")
	offset := 0
	for _, line := range lines {
		for _, pat := range declPatterns {
			re := regexp.MustCompile(strings.Replace(pat, "%s", quoted, 1))
			if m := re.FindStringSubmatch(strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")); m != nil {
				return &declaration{
					lineStart:   offset,
					lineEnd:     offset + len(line),
					initializer: strings.TrimSpace(m[1]),
				}
			}
		}
		offset += len(line)
	}
	return nil
}

// countAssignments counts lines that assign to name.
func countAssignments(text, name string) int {
	re := regexp.MustCompile(`(?m)^[ \t]*(?:(?:const|let|var)[ \t]+(?:mut[ \t]+)?)?` + regexp.QuoteMeta(name) + `[ \t]*(?::[^=\n]+)?:?=[^=]`)
	return len(re.FindAllString(text, -1))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
