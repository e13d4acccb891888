// Package textpos translates between LSP positions and byte offsets.
//
// LSP positions count lines from zero and characters in UTF-16 code units.
// Parsers and the file service index by byte, so every boundary crossing
// between the two worlds goes through this package.
package textpos

import (
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Position is a zero-based line/character pair. Character counts UTF-16
// code units, matching the LSP wire convention.
type Position struct {
	Line      uint32 `json:"line"`
	Character uint32 `json:"character"`
}

// Range is a half-open [Start, End) span of text.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// IsEmpty reports whether the range is a zero-width insertion cursor.
func (r Range) IsEmpty() bool { return r.Start == r.End }

// Before orders positions by line, then character.
func (p Position) Before(other Position) bool {
	if p.Line != other.Line {
		return p.Line < other.Line
	}
	return p.Character < other.Character
}

// Index is a line table over a single document revision. Build one per file
// per operation; it is cheap and must not outlive the text it was built from.
type Index struct {
	text       string
	lineStarts []int // byte offset of each line start
}

// NewIndex builds the line table for text.
func NewIndex(text string) *Index {
	idx := &Index{text: text, lineStarts: []int{0}}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			idx.lineStarts = append(idx.lineStarts, i+1)
		}
	}
	return idx
}

// LineCount returns the number of lines, counting a final line without a
// trailing newline.
func (ix *Index) LineCount() int { return len(ix.lineStarts) }

// lineSpan returns the byte range [start, end) of the given line, excluding
// the line terminator.
func (ix *Index) lineSpan(line int) (int, int) {
	start := ix.lineStarts[line]
	end := len(ix.text)
	if line+1 < len(ix.lineStarts) {
		end = ix.lineStarts[line+1]
	}
	// Trim the terminator so character offsets never land inside it.
	if end > start && ix.text[end-1] == '\n' {
		end--
		if end > start && ix.text[end-1] == '\r' {
			end--
		}
	}
	return start, end
}

// Offset converts an LSP position to a byte offset into the indexed text.
// Positions past the end of a line clamp to the line end; positions past the
// last line clamp to the end of the text.
func (ix *Index) Offset(pos Position) (int, error) {
	line := int(pos.Line)
	if line >= len(ix.lineStarts) {
		return len(ix.text), nil
	}
	start, end := ix.lineSpan(line)
	units := int(pos.Character)
	off := start
	for off < end && units > 0 {
		r, size := utf8.DecodeRuneInString(ix.text[off:end])
		if r == utf8.RuneError && size == 1 {
			return 0, fmt.Errorf("invalid UTF-8 at byte %d", off)
		}
		w := 1
		if r > 0xFFFF {
			w = 2
		}
		if w > units {
			break
		}
		units -= w
		off += size
	}
	return off, nil
}

// Pos converts a byte offset back to an LSP position.
func (ix *Index) Pos(offset int) Position {
	if offset < 0 {
		offset = 0
	}
	if offset > len(ix.text) {
		offset = len(ix.text)
	}
	// Binary search for the containing line.
	lo, hi := 0, len(ix.lineStarts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if ix.lineStarts[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	start := ix.lineStarts[lo]
	units := 0
	for i := start; i < offset; {
		r, size := utf8.DecodeRuneInString(ix.text[i:])
		if i+size > offset {
			// Offset inside a rune rounds down to the rune start.
			break
		}
		units += len(utf16.Encode([]rune{r}))
		i += size
	}
	return Position{Line: uint32(lo), Character: uint32(units)}
}

// Span converts a range to a [start, end) byte span.
func (ix *Index) Span(r Range) (int, int, error) {
	start, err := ix.Offset(r.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err := ix.Offset(r.End)
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, fmt.Errorf("inverted range %v", r)
	}
	return start, end, nil
}

// LineEnding reports the dominant line terminator of text, defaulting to LF.
func LineEnding(text string) string {
	if strings.Count(text, "\r\n")*2 >= strings.Count(text, "\n") && strings.Contains(text, "\r\n") {
		return "\r\n"
	}
	return "\n"
}
