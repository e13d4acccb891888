package plan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pleme-io/typemill/textpos"
)

func rng(sl, sc, el, ec uint32) textpos.Range {
	return textpos.Range{
		Start: textpos.Position{Line: sl, Character: sc},
		End:   textpos.Position{Line: el, Character: ec},
	}
}

func TestFinalizeOrdersAndSummarizes(t *testing.T) {
	p := New(Rename, "symbol")
	p.AddEdits("src/b.ts", TextEdit{Range: rng(0, 0, 0, 3), NewText: "x"})
	p.AddEdits("src/a.ts",
		TextEdit{Range: rng(4, 0, 4, 3), NewText: "y"},
		TextEdit{Range: rng(1, 0, 1, 3), NewText: "z"},
	)
	p.FileChecksums["src/a.ts"] = "sha256:aa"
	p.FileChecksums["src/b.ts"] = "sha256:bb"
	p.Created = []string{"src/new.ts"}

	require.NoError(t, p.Finalize())
	require.Equal(t, "src/a.ts", p.Edits[0].URI)
	require.Equal(t, uint32(1), p.Edits[0].Edits[0].Range.Start.Line)
	require.Equal(t, Summary{AffectedFiles: 2, CreatedFiles: 1}, p.Summary)
	require.Equal(t, "medium", p.Metadata.EstimatedImpact)
	require.NotEmpty(t, p.Metadata.ID)
}

func TestValidateRejectsMissingChecksum(t *testing.T) {
	p := New(Delete, "file")
	p.AddEdits("src/a.ts", TextEdit{Range: rng(0, 0, 0, 1)})
	require.ErrorContains(t, p.Finalize(), "file_checksums")
}

func TestValidateRejectsOverlap(t *testing.T) {
	p := New(Transform, "t")
	p.AddEdits("f.go",
		TextEdit{Range: rng(0, 0, 0, 5), NewText: "a"},
		TextEdit{Range: rng(0, 3, 0, 8), NewText: "b"},
	)
	p.FileChecksums["f.go"] = "sha256:cc"
	require.ErrorContains(t, p.Finalize(), "overlapping")
}

func TestTouchingRangesDoNotOverlap(t *testing.T) {
	p := New(Transform, "t")
	p.AddEdits("f.go",
		TextEdit{Range: rng(0, 0, 0, 5), NewText: "a"},
		TextEdit{Range: rng(0, 5, 0, 8), NewText: "b"},
	)
	p.FileChecksums["f.go"] = "sha256:cc"
	require.NoError(t, p.Finalize())
}

func TestZeroWidthInsertsAtSamePositionKeepOrder(t *testing.T) {
	p := New(Extract, "function")
	p.AddEdits("f.go",
		TextEdit{Range: rng(2, 0, 2, 0), NewText: "first"},
		TextEdit{Range: rng(2, 0, 2, 0), NewText: "second"},
	)
	p.FileChecksums["f.go"] = "sha256:cc"
	require.NoError(t, p.Finalize())
	require.Equal(t, "first", p.Edits[0].Edits[0].NewText)
	require.Equal(t, "second", p.Edits[0].Edits[1].NewText)
}

func TestChecksumFormat(t *testing.T) {
	sum := Checksum([]byte("hello"))
	require.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)
}

func TestValidateRejectsUnknownType(t *testing.T) {
	p := New(Type("Exotic"), "x")
	require.ErrorContains(t, p.Validate(), "plan_type")
}
