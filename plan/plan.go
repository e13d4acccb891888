// Package plan defines the checksum-bearing edit plan that the refactoring
// engine produces and the file service materializes. Plans carry data, not
// behavior: the seven families share one envelope discriminated by Type.
package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pleme-io/typemill/textpos"
)

// Version is the envelope version stamped on every plan.
const Version = "1.0"

// Type discriminates the plan families.
type Type string

const (
	Rename    Type = "Rename"
	Extract   Type = "Extract"
	Inline    Type = "Inline"
	Move      Type = "Move"
	Reorder   Type = "Reorder"
	Transform Type = "Transform"
	Delete    Type = "Delete"
)

// Valid reports whether t is a known discriminator.
func (t Type) Valid() bool {
	switch t {
	case Rename, Extract, Inline, Move, Reorder, Transform, Delete:
		return true
	}
	return false
}

// TextEdit replaces the text at Range with NewText. An empty range is an
// insertion cursor.
type TextEdit struct {
	Range   textpos.Range `json:"range"`
	NewText string        `json:"new_text"`
}

// FileEdit groups the edits against one file together with the content hash
// observed at plan time.
type FileEdit struct {
	URI         string     `json:"uri"` // workspace-relative POSIX path
	Edits       []TextEdit `json:"edits"`
	PreChecksum string     `json:"pre_checksum"`
	NewChecksum string     `json:"new_checksum,omitempty"`
}

// Warning is a soft issue surfaced during planning. Warnings never fail a
// plan.
type Warning struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Candidates []string `json:"candidates,omitempty"`
}

// Summary counts the plan's blast radius.
type Summary struct {
	AffectedFiles int `json:"affected_files"`
	CreatedFiles  int `json:"created_files"`
	DeletedFiles  int `json:"deleted_files"`
}

// Metadata carries provenance for the client.
type Metadata struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	Language        string    `json:"language,omitempty"`
	EstimatedImpact string    `json:"estimated_impact"`
	CreatedAt       time.Time `json:"created_at"`
}

// Plan is the shared envelope. Invariants (checked by Validate):
// every edit URI appears in FileChecksums; Edits is ordered by URI then
// ascending range start; within one URI no two edits overlap.
type Plan struct {
	Type          Type              `json:"plan_type"`
	Version       string            `json:"plan_version"`
	Edits         []FileEdit        `json:"edits"`
	Created       []string          `json:"created,omitempty"`
	Deleted       []string          `json:"deleted,omitempty"`
	Summary       Summary           `json:"summary"`
	Warnings      []Warning         `json:"warnings,omitempty"`
	Metadata      Metadata          `json:"metadata"`
	FileChecksums map[string]string `json:"file_checksums"`
}

// New starts an envelope for the given family.
func New(t Type, kind string) *Plan {
	return &Plan{
		Type:    t,
		Version: Version,
		Metadata: Metadata{
			ID:        uuid.NewString(),
			Kind:      kind,
			CreatedAt: time.Now().UTC(),
		},
		FileChecksums: map[string]string{},
	}
}

// Checksum hashes file bytes the way plans record them.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Warn appends a warning.
func (p *Plan) Warn(code, message string, candidates ...string) {
	p.Warnings = append(p.Warnings, Warning{Code: code, Message: message, Candidates: candidates})
}

// AddEdits merges edits into the file's entry, creating it if needed.
func (p *Plan) AddEdits(uri string, edits ...TextEdit) {
	for i := range p.Edits {
		if p.Edits[i].URI == uri {
			p.Edits[i].Edits = append(p.Edits[i].Edits, edits...)
			return
		}
	}
	p.Edits = append(p.Edits, FileEdit{URI: uri, Edits: edits})
}

// FileFor returns the edit group for uri, if present.
func (p *Plan) FileFor(uri string) *FileEdit {
	for i := range p.Edits {
		if p.Edits[i].URI == uri {
			return &p.Edits[i]
		}
	}
	return nil
}

// SortCanonical orders edits by URI, then ascending range start. Zero-width
// inserts at the same position keep their listed order.
func (p *Plan) SortCanonical() {
	sort.SliceStable(p.Edits, func(i, j int) bool { return p.Edits[i].URI < p.Edits[j].URI })
	for i := range p.Edits {
		edits := p.Edits[i].Edits
		sort.SliceStable(edits, func(a, b int) bool {
			return edits[a].Range.Start.Before(edits[b].Range.Start)
		})
	}
	sort.Strings(p.Created)
	sort.Strings(p.Deleted)
}

// Finalize sorts the plan, fills the summary, and validates invariants.
func (p *Plan) Finalize() error {
	p.SortCanonical()
	p.Summary = Summary{
		AffectedFiles: len(p.Edits),
		CreatedFiles:  len(p.Created),
		DeletedFiles:  len(p.Deleted),
	}
	if p.Metadata.EstimatedImpact == "" {
		p.Metadata.EstimatedImpact = estimateImpact(p.Summary)
	}
	return p.Validate()
}

// Validate checks the envelope invariants.
func (p *Plan) Validate() error {
	if !p.Type.Valid() {
		return fmt.Errorf("unknown plan_type %q", p.Type)
	}
	if p.Version != Version {
		return fmt.Errorf("unsupported plan_version %q", p.Version)
	}
	for i := range p.Edits {
		fe := &p.Edits[i]
		if _, ok := p.FileChecksums[fe.URI]; !ok {
			return fmt.Errorf("edit target %s missing from file_checksums", fe.URI)
		}
		if i > 0 && p.Edits[i-1].URI > fe.URI {
			return fmt.Errorf("edits not ordered by URI at %s", fe.URI)
		}
		for j := 1; j < len(fe.Edits); j++ {
			prev, cur := fe.Edits[j-1], fe.Edits[j]
			if cur.Range.Start.Before(prev.Range.Start) {
				return fmt.Errorf("edits for %s not ordered by range start", fe.URI)
			}
			if overlaps(prev.Range, cur.Range) {
				return fmt.Errorf("overlapping edits in %s at %d:%d", fe.URI, cur.Range.Start.Line, cur.Range.Start.Character)
			}
		}
	}
	return nil
}

// overlaps implements the half-open overlap rule; touching ranges and
// zero-width inserts at the same position do not overlap.
func overlaps(a, b textpos.Range) bool {
	return b.Start.Before(a.End) && a.Start.Before(b.End)
}

func estimateImpact(s Summary) string {
	n := s.AffectedFiles + s.CreatedFiles + s.DeletedFiles
	switch {
	case n <= 1:
		return "low"
	case n <= 10:
		return "medium"
	default:
		return "high"
	}
}
