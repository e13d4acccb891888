package textpos

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOffsetASCII(t *testing.T) {
	ix := NewIndex("hello\nworld\n")
	off, err := ix.Offset(Position{Line: 1, Character: 2})
	require.NoError(t, err)
	require.Equal(t, 8, off)
}

func TestOffsetMultibyte(t *testing.T) {
	// "héllo" — é is two bytes but one UTF-16 unit.
	ix := NewIndex("héllo\n")
	off, err := ix.Offset(Position{Line: 0, Character: 2})
	require.NoError(t, err)
	require.Equal(t, 3, off)
}

func TestOffsetSurrogatePair(t *testing.T) {
	// 😀 is four bytes and two UTF-16 units.
	ix := NewIndex("a\U0001F600b")
	off, err := ix.Offset(Position{Line: 0, Character: 3})
	require.NoError(t, err)
	require.Equal(t, 5, off)

	// A character offset landing inside the pair stays before it.
	off, err = ix.Offset(Position{Line: 0, Character: 2})
	require.NoError(t, err)
	require.Equal(t, 1, off)
}

func TestOffsetClampsPastLineEnd(t *testing.T) {
	ix := NewIndex("ab\ncd")
	off, err := ix.Offset(Position{Line: 0, Character: 99})
	require.NoError(t, err)
	require.Equal(t, 2, off)

	off, err = ix.Offset(Position{Line: 9, Character: 0})
	require.NoError(t, err)
	require.Equal(t, 5, off)
}

func TestOffsetCRLF(t *testing.T) {
	ix := NewIndex("ab\r\ncd\r\n")
	off, err := ix.Offset(Position{Line: 1, Character: 1})
	require.NoError(t, err)
	require.Equal(t, 5, off)
	// Clamp excludes the CRLF terminator.
	off, err = ix.Offset(Position{Line: 0, Character: 10})
	require.NoError(t, err)
	require.Equal(t, 2, off)
}

func TestPosRoundTrip(t *testing.T) {
	text := "one\ntwø\nthree \U0001F600 end\n"
	ix := NewIndex(text)
	for off := 0; off <= len(text); off++ {
		pos := ix.Pos(off)
		back, err := ix.Offset(pos)
		require.NoError(t, err)
		// Offsets inside a rune round down to the rune start.
		require.LessOrEqual(t, back, off)
	}
	pos := ix.Pos(4)
	require.Equal(t, Position{Line: 1, Character: 0}, pos)
}

func TestSpan(t *testing.T) {
	ix := NewIndex("alpha\nbeta\n")
	start, end, err := ix.Span(Range{
		Start: Position{Line: 1, Character: 0},
		End:   Position{Line: 1, Character: 4},
	})
	require.NoError(t, err)
	require.Equal(t, "beta", "alpha\nbeta\n"[start:end])

	_, _, err = ix.Span(Range{
		Start: Position{Line: 1, Character: 4},
		End:   Position{Line: 0, Character: 0},
	})
	require.Error(t, err)
}

func TestLineEnding(t *testing.T) {
	require.Equal(t, "\n", LineEnding("a\nb\n"))
	require.Equal(t, "\r\n", LineEnding("a\r\nb\r\n"))
	require.Equal(t, "\n", LineEnding("no newline"))
}
