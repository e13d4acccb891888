package refactor

import (
	"context"
	"encoding/json"

	"github.com/pleme-io/typemill/plan"
	"github.com/pleme-io/typemill/textpos"
)

// MoveArgs parameterize move.plan.
type MoveArgs struct {
	Kind          string            `json:"kind"` // file | directory | symbol
	Source        string            `json:"source"`
	Destination   string            `json:"destination"`
	Position      *textpos.Position `json:"position,omitempty"` // symbol moves
	UpdateImports *bool             `json:"update_imports,omitempty"`
}

func (a *MoveArgs) updateImports() bool {
	return a.UpdateImports == nil || *a.UpdateImports
}

func (e *Engine) planMove(ctx context.Context, raw json.RawMessage) (*plan.Plan, error) {
	var args MoveArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Source == "" || args.Destination == "" {
		return nil, invalidf("source and destination are required")
	}

	switch args.Kind {
	case "file", "":
		p := plan.New(plan.Move, "file")
		move := &pathMove{OldPath: args.Source, NewPath: args.Destination}
		if err := e.buildPathMove(p, move, false, args.updateImports()); err != nil {
			return nil, err
		}
		return p, nil
	case "directory":
		p := plan.New(plan.Move, "directory")
		move := &pathMove{OldPath: args.Source, NewPath: args.Destination}
		if err := e.buildPathMove(p, move, true, args.updateImports()); err != nil {
			return nil, err
		}
		return p, nil
	case "symbol":
		return e.planSymbolMove(ctx, &args)
	default:
		return nil, invalidf("unknown move kind %q", args.Kind)
	}
}

// planSymbolMove relocates one top-level declaration from source to
// destination file. The declaration's extent comes from declarationExtent's
// brace and line scan; cross-file import fixes surface as a
// warning for the caller to re-plan when references remain.
func (e *Engine) planSymbolMove(ctx context.Context, args *MoveArgs) (*plan.Plan, error) {
	if args.Position == nil {
		return nil, invalidf("symbol move needs position")
	}
	adapter := e.adapters.ForPath(args.Source)
	if adapter == nil {
		return nil, unsupportedf("no parser for %s", args.Source)
	}
	text, err := e.readText(args.Source)
	if err != nil {
		return nil, err
	}
	name, err := symbolAt(text, *args.Position)
	if err != nil {
		return nil, invalidf("no symbol at %s:%d:%d", args.Source, args.Position.Line, args.Position.Character)
	}

	startOff, endOff, ok := declarationExtent(text, *args.Position)
	if !ok {
		return nil, invalidf("cannot determine the extent of %q", name)
	}
	moved := text[startOff:endOff]
	ix := textpos.NewIndex(text)

	p := plan.New(plan.Move, "symbol")
	p.Metadata.Language = adapter.Language()
	p.AddEdits(args.Source, plan.TextEdit{
		Range: textpos.Range{Start: ix.Pos(startOff), End: ix.Pos(endOff)},
	})

	if e.files.Exists(args.Destination) {
		destText, err := e.readText(args.Destination)
		if err != nil {
			return nil, err
		}
		destIx := textpos.NewIndex(destText)
		end := destIx.Pos(len(destText))
		sep := textpos.LineEnding(destText)
		prefix := ""
		if len(destText) > 0 && destText[len(destText)-1] != '\n' {
			prefix = sep
		}
		p.AddEdits(args.Destination, plan.TextEdit{
			Range:   textpos.Range{Start: end, End: end},
			NewText: prefix + sep + moved,
		})
	} else {
		p.Created = append(p.Created, args.Destination)
		p.AddEdits(args.Destination, plan.TextEdit{Range: textpos.Range{}, NewText: moved})
	}

	if remaining := len(adapter.FindReferences(text, name)); remaining > 1 {
		p.Warn("references_remain", name+" is still referenced in "+args.Source+"; add an import or re-export")
	}
	return p, nil
}

// declarationExtent finds the byte extent of the declaration block at a
// position: the line it starts on through the matching close brace, or the
// single line for brace-less declarations.
func declarationExtent(text string, pos textpos.Position) (int, int, bool) {
	ix := textpos.NewIndex(text)
	off, err := ix.Offset(pos)
	if err != nil {
		return 0, 0, false
	}
	start := lineStartOffset(text, off)

	depth := 0
	opened := false
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
			opened = true
		case '}':
			depth--
			if opened && depth == 0 {
				end := i + 1
				// Consume the rest of the line.
				for end < len(text) && text[end] != '\n' {
					end++
				}
				if end < len(text) {
					end++
				}
				return start, end, true
			}
		case '\n':
			if !opened {
				return start, i + 1, true
			}
		}
	}
	if !opened {
		return start, len(text), true
	}
	return 0, 0, false
}
