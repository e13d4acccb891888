// Package refactor translates semantic refactoring intents into edit plans
// and drives their application. Plan construction never writes; the apply
// side layers presets, hands the plan to the file service, and reports the
// validation outcome.
package refactor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pleme-io/typemill/adapters"
	"github.com/pleme-io/typemill/config"
	"github.com/pleme-io/typemill/fileops"
	"github.com/pleme-io/typemill/lspmux"
	"github.com/pleme-io/typemill/plan"
	"github.com/pleme-io/typemill/textpos"
)

// InvalidRequestError reports malformed plan arguments.
type InvalidRequestError struct{ Reason string }

func (e *InvalidRequestError) Error() string { return "invalid request: " + e.Reason }

// UnsupportedError reports a plan kind the engine cannot build for the
// target language.
type UnsupportedError struct{ Reason string }

func (e *UnsupportedError) Error() string { return "unsupported: " + e.Reason }

func invalidf(format string, args ...interface{}) error {
	return &InvalidRequestError{Reason: fmt.Sprintf(format, args...)}
}

func unsupportedf(format string, args ...interface{}) error {
	return &UnsupportedError{Reason: fmt.Sprintf(format, args...)}
}

// Engine builds and applies plans.
type Engine struct {
	lsp      *lspmux.Registry
	files    *fileops.Service
	adapters *adapters.Registry
	presets  *config.Presets
	logger   *slog.Logger
}

// NewEngine wires the plan/apply engine.
func NewEngine(lsp *lspmux.Registry, files *fileops.Service, reg *adapters.Registry, presets *config.Presets, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if presets == nil {
		presets = &config.Presets{}
	}
	return &Engine{
		lsp:      lsp,
		files:    files,
		adapters: reg,
		presets:  presets,
		logger:   logger.With("component", "refactor"),
	}
}

// Plan dispatches to the handler for one plan family. The args payload is
// the tool call's raw arguments object.
func (e *Engine) Plan(ctx context.Context, family plan.Type, args json.RawMessage) (*plan.Plan, error) {
	var p *plan.Plan
	var err error
	switch family {
	case plan.Rename:
		p, err = e.planRename(ctx, args)
	case plan.Extract:
		p, err = e.planExtract(ctx, args)
	case plan.Inline:
		p, err = e.planInline(ctx, args)
	case plan.Move:
		p, err = e.planMove(ctx, args)
	case plan.Reorder:
		p, err = e.planReorder(ctx, args)
	case plan.Transform:
		p, err = e.planTransform(ctx, args)
	case plan.Delete:
		p, err = e.planDelete(ctx, args)
	default:
		return nil, invalidf("unknown plan family %q", family)
	}
	if err != nil {
		return nil, err
	}
	if err := e.stampChecksums(p); err != nil {
		return nil, err
	}
	if err := p.Finalize(); err != nil {
		return nil, fmt.Errorf("internal: plan invariant violated: %w", err)
	}
	e.logger.Debug("plan built",
		"plan", p.Metadata.ID,
		"type", string(p.Type),
		"kind", p.Metadata.Kind,
		"files", p.Summary.AffectedFiles,
		"warnings", len(p.Warnings))
	return p, nil
}

// ApplyArgs are the wire-shaped apply options. Pointer fields distinguish
// explicit call-site choices from "use the preset/default".
type ApplyArgs struct {
	Plan              *plan.Plan       `json:"plan"`
	Preset            string           `json:"preset,omitempty"`
	DryRun            *bool            `json:"dry_run,omitempty"`
	ValidateChecksums *bool            `json:"validate_checksums,omitempty"`
	RollbackOnError   *bool            `json:"rollback_on_error,omitempty"`
	Validation        *plan.Validation `json:"validation,omitempty"`
}

// Apply validates the envelope, layers the named preset's defaults under the
// caller's explicit options, and materializes the plan through the file
// service.
func (e *Engine) Apply(ctx context.Context, args ApplyArgs) (*plan.ApplyResult, error) {
	if args.Plan == nil {
		return nil, invalidf("missing plan")
	}
	if !args.Plan.Type.Valid() {
		return nil, invalidf("unknown plan_type %q", args.Plan.Type)
	}
	opts, err := e.resolveOptions(args)
	if err != nil {
		return nil, &InvalidRequestError{Reason: err.Error()}
	}
	return e.files.Apply(ctx, args.Plan, opts)
}

// resolveOptions starts from the safe defaults, overlays refactor.toml
// defaults and the named preset, then the call's explicit options on top.
func (e *Engine) resolveOptions(args ApplyArgs) (plan.ApplyOptions, error) {
	out := plan.DefaultApplyOptions()
	defaults, err := e.presets.Resolve(args.Preset)
	if err != nil {
		return plan.ApplyOptions{}, err
	}
	if defaults.DryRun != nil {
		out.DryRun = *defaults.DryRun
	}
	if defaults.ValidateChecksums != nil {
		out.ValidateChecksums = *defaults.ValidateChecksums
	}
	if defaults.RollbackOnError != nil {
		out.RollbackOnError = *defaults.RollbackOnError
	}
	if defaults.ValidationCommand != nil {
		out.Validation = &plan.Validation{Command: *defaults.ValidationCommand}
	}
	if defaults.FailOnStderr != nil && out.Validation != nil {
		out.Validation.FailOnStderr = *defaults.FailOnStderr
	}

	if args.DryRun != nil {
		out.DryRun = *args.DryRun
	}
	if args.ValidateChecksums != nil {
		out.ValidateChecksums = *args.ValidateChecksums
	}
	if args.RollbackOnError != nil {
		out.RollbackOnError = *args.RollbackOnError
	}
	if args.Validation != nil {
		out.Validation = args.Validation
	}
	return out, nil
}

// stampChecksums records the current hash of every file the plan touches.
// Files to be created are stamped "absent" so apply can detect conflicts.
func (e *Engine) stampChecksums(p *plan.Plan) error {
	stamp := func(rel string) error {
		if _, done := p.FileChecksums[rel]; done {
			return nil
		}
		for _, c := range p.Created {
			if c == rel {
				p.FileChecksums[rel] = "absent"
				return nil
			}
		}
		data, err := e.files.Read(rel)
		if err != nil {
			return invalidf("target file %s unreadable: %v", rel, err)
		}
		p.FileChecksums[rel] = plan.Checksum(data)
		return nil
	}
	for i := range p.Edits {
		if err := stamp(p.Edits[i].URI); err != nil {
			return err
		}
	}
	for _, rel := range p.Created {
		if err := stamp(rel); err != nil {
			return err
		}
	}
	for _, rel := range p.Deleted {
		if err := stamp(rel); err != nil {
			return err
		}
	}
	return nil
}

// readText loads a workspace file as text.
func (e *Engine) readText(rel string) (string, error) {
	data, err := e.files.Read(rel)
	if err != nil {
		return "", invalidf("target file %s unreadable: %v", rel, err)
	}
	return string(data), nil
}

// Selector addresses a target by path and optional position.
type Selector struct {
	Path     string            `json:"path"`
	Position *textpos.Position `json:"position,omitempty"`
}

func decodeArgs(raw json.RawMessage, into interface{}) error {
	if len(raw) == 0 {
		return invalidf("missing arguments")
	}
	dec := json.NewDecoder(bytesReader(raw))
	if err := dec.Decode(into); err != nil {
		return invalidf("malformed arguments: %v", err)
	}
	return nil
}
