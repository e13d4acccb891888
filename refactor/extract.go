package refactor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pleme-io/typemill/plan"
	"github.com/pleme-io/typemill/textpos"
)

// ExtractArgs parameterize extract.plan.
type ExtractArgs struct {
	Kind       string        `json:"kind"` // function | variable | constant | type_alias
	Path       string        `json:"path"`
	Range      textpos.Range `json:"range"`
	Name       string        `json:"name"`
	Visibility string        `json:"visibility,omitempty"`
}

func (e *Engine) planExtract(ctx context.Context, raw json.RawMessage) (*plan.Plan, error) {
	var args ExtractArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Path == "" || args.Name == "" {
		return nil, invalidf("path and name are required")
	}
	adapter := e.adapters.ForPath(args.Path)
	if adapter == nil {
		return nil, unsupportedf("no parser for %s", args.Path)
	}
	text, err := e.readText(args.Path)
	if err != nil {
		return nil, err
	}
	ix := textpos.NewIndex(text)
	start, end, err := ix.Span(args.Range)
	if err != nil || start == end {
		return nil, invalidf("invalid source range")
	}
	selected := text[start:end]
	eol := textpos.LineEnding(text)
	indent := lineIndent(text, start)

	var decl, replacement string
	switch args.Kind {
	case "function":
		decl, replacement = extractFunction(adapter.Language(), args.Name, selected, indent, eol)
	case "variable", "constant":
		decl, replacement = extractBinding(adapter.Language(), args.Kind, args.Name, selected, indent, eol)
	case "type_alias":
		decl, replacement = extractTypeAlias(adapter.Language(), args.Name, selected, indent, eol)
		if decl == "" {
			return nil, unsupportedf("type_alias extraction not supported for %s", adapter.Language())
		}
	default:
		return nil, invalidf("unknown extract kind %q", args.Kind)
	}

	p := plan.New(plan.Extract, args.Kind)
	p.Metadata.Language = adapter.Language()

	// Insert the new declaration at the start of the selection's line, then
	// replace the selection with a reference. Both edits anchor to original
	// coordinates; the insert is zero-width so they never overlap.
	lineStart := ix.Pos(lineStartOffset(text, start))
	p.AddEdits(args.Path,
		plan.TextEdit{Range: textpos.Range{Start: lineStart, End: lineStart}, NewText: decl},
		plan.TextEdit{Range: args.Range, NewText: replacement},
	)
	return p, nil
}

func lineStartOffset(text string, off int) int {
	for off > 0 && text[off-1] != '\n' {
		off--
	}
	return off
}

func lineIndent(text string, off int) string {
	start := lineStartOffset(text, off)
	end := start
	for end < len(text) && (text[end] == ' ' || text[end] == '\t') {
		end++
	}
	return text[start:end]
}

func extractFunction(language, name, body, indent, eol string) (decl, replacement string) {
	body = strings.TrimSpace(body)
	switch language {
	case "python":
		lines := []string{indent + "def " + name + "():"}
		for _, l := range strings.Split(body, "\n") {
			lines = append(lines, indent+"    "+strings.TrimRight(l, "\r"))
		}
		return strings.Join(lines, eol) + eol + eol, name + "()"
	case "go":
		return indent + "func " + name + "() {" + eol +
			indent + "\t" + body + eol +
			indent + "}" + eol + eol, name + "()"
	case "rust":
		return indent + "fn " + name + "() {" + eol +
			indent + "    " + body + eol +
			indent + "}" + eol + eol, name + "()"
	default: // typescript family
		return indent + "function " + name + "() {" + eol +
			indent + "    " + body + eol +
			indent + "}" + eol + eol, name + "()"
	}
}

func extractBinding(language, kind, name, expr, indent, eol string) (decl, replacement string) {
	expr = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(expr), ";"))
	switch language {
	case "python":
		return indent + fmt.Sprintf("%s = %s%s", name, expr, eol), name
	case "go":
		if kind == "constant" {
			return indent + fmt.Sprintf("const %s = %s%s", name, expr, eol), name
		}
		return indent + fmt.Sprintf("%s := %s%s", name, expr, eol), name
	case "rust":
		return indent + fmt.Sprintf("let %s = %s;%s", name, expr, eol), name
	default:
		keyword := "const"
		if kind == "variable" {
			keyword = "let"
		}
		return indent + fmt.Sprintf("%s %s = %s;%s", keyword, name, expr, eol), name
	}
}

func extractTypeAlias(language, name, expr, indent, eol string) (decl, replacement string) {
	expr = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(expr), ";"))
	switch language {
	case "typescript":
		return indent + fmt.Sprintf("type %s = %s;%s", name, expr, eol), name
	case "go":
		return indent + fmt.Sprintf("type %s = %s%s", name, expr, eol), name
	case "rust":
		return indent + fmt.Sprintf("type %s = %s;%s", name, expr, eol), name
	default:
		return "", ""
	}
}
