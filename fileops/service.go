// Package fileops is the transactional multi-file reader/writer behind the
// apply engine. It owns the per-path lock table, content-hash freshness
// checks, snapshots, and rollback; partial failure is never observable
// across files.
package fileops

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/pleme-io/typemill/plan"
	"github.com/pleme-io/typemill/textpos"
	"github.com/pleme-io/typemill/workspace"
)

// Service applies plans against one workspace root.
type Service struct {
	root   *workspace.Root
	bus    *workspace.Bus
	locks  *lockTable
	logger *slog.Logger
}

// NewService builds a file service publishing changes on bus.
func NewService(root *workspace.Root, bus *workspace.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		root:   root,
		bus:    bus,
		locks:  newLockTable(),
		logger: logger.With("component", "fileops"),
	}
}

// Root returns the workspace root the service operates on.
func (s *Service) Root() *workspace.Root { return s.root }

// Read returns the current bytes of a workspace path. No state is recorded.
func (s *Service) Read(path string) ([]byte, error) {
	abs, err := s.root.Abs(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// Exists reports whether the workspace path exists.
func (s *Service) Exists(path string) bool {
	abs, err := s.root.Abs(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// Apply materializes a plan. The sequence is: lock all targets in sorted
// order, verify checksums, snapshot, write edits atomically per file, create
// and delete files, run the optional validation command, and either publish
// the changes or roll everything back.
func (s *Service) Apply(ctx context.Context, p *plan.Plan, opts plan.ApplyOptions) (*plan.ApplyResult, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	targets, err := s.resolveTargets(p)
	if err != nil {
		return nil, err
	}
	rels := make([]string, 0, len(targets))
	for rel := range targets {
		rels = append(rels, rel)
	}
	release := s.locks.acquire(rels)
	defer release()

	if opts.ValidateChecksums {
		if err := s.verifyChecksums(p); err != nil {
			return nil, err
		}
	}

	// Compute every post-apply content before touching disk, so a malformed
	// edit aborts with no snapshot and no partial state.
	newContents := make(map[string][]byte)
	for i := range p.Edits {
		fe := &p.Edits[i]
		updated, err := s.applyFileEdits(fe, isCreated(p, fe.URI))
		if err != nil {
			return nil, err
		}
		newContents[fe.URI] = updated
	}

	result := &plan.ApplyResult{
		Applied:   !opts.DryRun,
		DryRun:    opts.DryRun,
		Checksums: map[string]string{},
		Created:   p.Created,
		Deleted:   p.Deleted,
	}
	for i := range p.Edits {
		result.Files = append(result.Files, p.Edits[i].URI)
	}
	for rel, data := range newContents {
		result.Checksums[rel] = plan.Checksum(data)
	}
	if opts.DryRun {
		return result, nil
	}

	snap, err := takeSnapshot(targets)
	if err != nil {
		return nil, err
	}

	fail := func(cause error) error {
		if opts.RollbackOnError {
			snap.restore()
		}
		return cause
	}

	for rel, data := range newContents {
		if err := writeFileAtomic(targets[rel], data, 0o644); err != nil {
			return nil, fail(fmt.Errorf("write %s: %w", rel, err))
		}
	}
	for _, rel := range p.Created {
		if _, ok := newContents[rel]; ok {
			continue // content came from edits
		}
		if err := writeFileAtomic(targets[rel], nil, 0o644); err != nil {
			return nil, fail(fmt.Errorf("create %s: %w", rel, err))
		}
	}
	for _, rel := range p.Deleted {
		if err := os.Remove(targets[rel]); err != nil && !os.IsNotExist(err) {
			return nil, fail(fmt.Errorf("delete %s: %w", rel, err))
		}
	}

	if opts.Validation != nil && opts.Validation.Command != "" {
		vr := runValidation(ctx, s.root.Path(), opts.Validation)
		result.Validation = &vr
		if !vr.Passed {
			return nil, fail(&ValidationFailedError{Result: vr})
		}
	}

	s.publish(p)
	s.logger.Info("plan applied",
		"plan", p.Metadata.ID,
		"type", string(p.Type),
		"files", len(result.Files),
		"created", len(p.Created),
		"deleted", len(p.Deleted))
	return result, nil
}

// resolveTargets maps every affected workspace-relative path to its absolute
// location.
func (s *Service) resolveTargets(p *plan.Plan) (map[string]string, error) {
	targets := make(map[string]string)
	add := func(rel string) error {
		abs, err := s.root.Abs(rel)
		if err != nil {
			return err
		}
		targets[rel] = abs
		return nil
	}
	for i := range p.Edits {
		if err := add(p.Edits[i].URI); err != nil {
			return nil, err
		}
	}
	for _, rel := range p.Created {
		if err := add(rel); err != nil {
			return nil, err
		}
	}
	for _, rel := range p.Deleted {
		if err := add(rel); err != nil {
			return nil, err
		}
	}
	return targets, nil
}

func (s *Service) verifyChecksums(p *plan.Plan) error {
	for rel, expected := range p.FileChecksums {
		data, err := s.Read(rel)
		if os.IsNotExist(err) {
			if isCreated(p, rel) {
				continue
			}
			return &StalePlanError{Path: rel, Expected: expected, Actual: "absent"}
		}
		if err != nil {
			return err
		}
		if isCreated(p, rel) {
			return &StalePlanError{Path: rel, Expected: "absent", Actual: plan.Checksum(data)}
		}
		if actual := plan.Checksum(data); actual != expected {
			return &StalePlanError{Path: rel, Expected: expected, Actual: actual}
		}
	}
	return nil
}

// applyFileEdits runs one file's edits against its current bytes. Edits are
// applied in reverse range order so earlier byte offsets stay valid; inserts
// sharing a position come out in listed order.
func (s *Service) applyFileEdits(fe *plan.FileEdit, created bool) ([]byte, error) {
	var text string
	if !created {
		data, err := s.Read(fe.URI)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fe.URI, err)
		}
		text = string(data)
	}
	ix := textpos.NewIndex(text)
	for i := len(fe.Edits) - 1; i >= 0; i-- {
		edit := fe.Edits[i]
		start, end, err := ix.Span(edit.Range)
		if err != nil {
			return nil, fmt.Errorf("edit %d of %s: %w", i, fe.URI, err)
		}
		text = text[:start] + edit.NewText + text[end:]
	}
	return []byte(text), nil
}

func (s *Service) publish(p *plan.Plan) {
	if s.bus == nil {
		return
	}
	var changes []workspace.FileChange
	for i := range p.Edits {
		changes = append(changes, workspace.FileChange{Path: p.Edits[i].URI, Origin: workspace.OriginApply})
	}
	for _, rel := range p.Created {
		changes = append(changes, workspace.FileChange{Path: rel, Origin: workspace.OriginApply, Created: true})
	}
	for _, rel := range p.Deleted {
		changes = append(changes, workspace.FileChange{Path: rel, Origin: workspace.OriginApply, Deleted: true})
	}
	s.bus.Publish(changes)
}

func isCreated(p *plan.Plan, rel string) bool {
	for _, c := range p.Created {
		if c == rel {
			return true
		}
	}
	return false
}
