package refactor

import (
	"bytes"
	"io"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/pleme-io/typemill/plan"
	"github.com/pleme-io/typemill/textpos"
)

func bytesReader(raw []byte) io.Reader { return bytes.NewReader(raw) }

// diffToEdits converts an old→new text pair into minimal TextEdits against
// the old text. Delete+insert pairs collapse into replacements.
func diffToEdits(oldText, newText string) []plan.TextEdit {
	if oldText == newText {
		return nil
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldText, newText, false)
	diffs = dmp.DiffCleanupEfficiency(diffs)

	ix := textpos.NewIndex(oldText)
	var edits []plan.TextEdit
	offset := 0
	for i := 0; i < len(diffs); i++ {
		d := diffs[i]
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			offset += len(d.Text)
		case diffmatchpatch.DiffDelete:
			start, end := offset, offset+len(d.Text)
			newText := ""
			// Merge an immediately following insert into a replacement.
			if i+1 < len(diffs) && diffs[i+1].Type == diffmatchpatch.DiffInsert {
				newText = diffs[i+1].Text
				i++
			}
			edits = append(edits, plan.TextEdit{
				Range:   textpos.Range{Start: ix.Pos(start), End: ix.Pos(end)},
				NewText: newText,
			})
			offset = end
		case diffmatchpatch.DiffInsert:
			pos := ix.Pos(offset)
			edits = append(edits, plan.TextEdit{
				Range:   textpos.Range{Start: pos, End: pos},
				NewText: d.Text,
			})
		}
	}
	return edits
}

// fromLSPRange converts a protocol range into the plan coordinate type.
func fromLSPRange(r protocol.Range) textpos.Range {
	return textpos.Range{
		Start: textpos.Position{Line: r.Start.Line, Character: r.Start.Character},
		End:   textpos.Position{Line: r.End.Line, Character: r.End.Character},
	}
}

// toLSPPosition converts a plan position to the protocol type.
func toLSPPosition(p textpos.Position) protocol.Position {
	return protocol.Position{Line: p.Line, Character: p.Character}
}

// normalizeWorkspaceEdit flattens both WorkspaceEdit shapes (changes and
// documentChanges) into per-file edit lists keyed by workspace path.
func (e *Engine) normalizeWorkspaceEdit(we *protocol.WorkspaceEdit) (map[string][]plan.TextEdit, []string) {
	out := map[string][]plan.TextEdit{}
	var warnings []string
	add := func(docURI uri.URI, edits []protocol.TextEdit) {
		rel, err := e.files.Root().FromURI(docURI)
		if err != nil {
			warnings = append(warnings, "edit outside workspace: "+string(docURI))
			return
		}
		for _, te := range edits {
			out[rel] = append(out[rel], plan.TextEdit{Range: fromLSPRange(te.Range), NewText: te.NewText})
		}
	}
	if we == nil {
		return out, warnings
	}
	for docURI, edits := range we.Changes {
		add(docURI, edits)
	}
	for _, dc := range we.DocumentChanges {
		add(uri.URI(dc.TextDocument.URI), dc.Edits)
	}
	return out, warnings
}
