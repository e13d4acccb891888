package refactor

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pleme-io/typemill/plan"
	"github.com/pleme-io/typemill/textpos"
)

// TransformArgs parameterize transform.plan.
type TransformArgs struct {
	Kind    string `json:"kind"` // quotes | line_endings
	Path    string `json:"path"`
	Options struct {
		Quote      string `json:"quote,omitempty"`       // single | double
		LineEnding string `json:"line_ending,omitempty"` // lf | crlf
	} `json:"options"`
}

// planTransform covers the mechanical single-file transforms: import quote
// style normalization and line-ending conversion.
func (e *Engine) planTransform(ctx context.Context, raw json.RawMessage) (*plan.Plan, error) {
	var args TransformArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, invalidf("path is required")
	}
	text, err := e.readText(args.Path)
	if err != nil {
		return nil, err
	}

	switch args.Kind {
	case "quotes":
		return e.planQuoteTransform(&args, text)
	case "line_endings":
		return e.planLineEndingTransform(&args, text)
	default:
		return nil, unsupportedf("transform kind %q", args.Kind)
	}
}

func (e *Engine) planQuoteTransform(args *TransformArgs, text string) (*plan.Plan, error) {
	adapter := e.adapters.ForPath(args.Path)
	if adapter == nil {
		return nil, unsupportedf("no parser for %s", args.Path)
	}
	var want byte
	switch args.Options.Quote {
	case "single":
		want = '\''
	case "double":
		want = '"'
	default:
		return nil, invalidf("quote must be single or double")
	}
	parsed, err := adapter.Parse(text, args.Path)
	if err != nil {
		return nil, invalidf("parse %s: %v", args.Path, err)
	}

	p := plan.New(plan.Transform, "quotes")
	p.Metadata.Language = adapter.Language()
	ix := textpos.NewIndex(text)
	for _, imp := range adapter.ExtractImports(parsed) {
		qs, qe := imp.Module.Start-1, imp.Module.End
		if qs < 0 || qe >= len(text) {
			continue
		}
		have := text[qs]
		if (have != '\'' && have != '"') || have == want || text[qe] != have {
			continue
		}
		q := string(want)
		p.AddEdits(args.Path,
			plan.TextEdit{Range: textpos.Range{Start: ix.Pos(qs), End: ix.Pos(qs + 1)}, NewText: q},
			plan.TextEdit{Range: textpos.Range{Start: ix.Pos(qe), End: ix.Pos(qe + 1)}, NewText: q},
		)
	}
	if len(p.Edits) == 0 {
		p.Warn("nothing_to_do", "quote style already consistent")
	}
	return p, nil
}

func (e *Engine) planLineEndingTransform(args *TransformArgs, text string) (*plan.Plan, error) {
	var replaced string
	switch args.Options.LineEnding {
	case "lf":
		replaced = strings.ReplaceAll(text, "\r\n", "\n")
	case "crlf":
		replaced = strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\n", "\r\n")
	default:
		return nil, invalidf("line_ending must be lf or crlf")
	}

	p := plan.New(plan.Transform, "line_endings")
	if replaced == text {
		p.Warn("nothing_to_do", "file already uses the requested line endings")
		return p, nil
	}
	ix := textpos.NewIndex(text)
	p.AddEdits(args.Path, plan.TextEdit{
		Range:   textpos.Range{Start: textpos.Position{}, End: ix.Pos(len(text))},
		NewText: replaced,
	})
	return p, nil
}
