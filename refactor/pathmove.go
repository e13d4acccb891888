package refactor

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pleme-io/typemill/adapters"
	"github.com/pleme-io/typemill/plan"
	"github.com/pleme-io/typemill/textpos"
)

// pathMove describes a file or directory relocation.
type pathMove struct {
	OldPath string
	NewPath string
}

var skippedDirs = map[string]bool{
	".git": true, "node_modules": true, "target": true,
	".typemill": true, ".codebuddy": true,
}

// walkFiles visits every regular file in the workspace as a relative POSIX
// path.
func (e *Engine) walkFiles(visit func(rel string)) error {
	root := e.files.Root().Path()
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, rerr := e.files.Root().Rel(p)
		if rerr != nil {
			return nil
		}
		visit(rel)
		return nil
	})
}

// buildPathMove populates a plan with the file creations/deletions of a move
// and the import rewrites of every referencing file. Each referencing file
// is rewritten in one batch, no matter how many moved files it imports.
func (e *Engine) buildPathMove(p *plan.Plan, move *pathMove, isDir, updateImports bool) error {
	oldAbs, err := e.files.Root().Abs(move.OldPath)
	if err != nil {
		return invalidf("%v", err)
	}
	if _, err := e.files.Root().Abs(move.NewPath); err != nil {
		return invalidf("%v", err)
	}
	info, err := os.Stat(oldAbs)
	if err != nil {
		return invalidf("move source %s missing", move.OldPath)
	}
	if isDir != info.IsDir() {
		return invalidf("move source %s kind mismatch", move.OldPath)
	}

	oldRel := path.Clean(filepath.ToSlash(move.OldPath))
	newRel := path.Clean(filepath.ToSlash(move.NewPath))
	if oldRel == newRel {
		return invalidf("move source and destination are identical")
	}

	// Collect the moved file set.
	moved := map[string]string{} // old rel -> new rel
	if isDir {
		err = e.walkFiles(func(rel string) {
			if rel == oldRel || strings.HasPrefix(rel, oldRel+"/") {
				moved[rel] = newRel + rel[len(oldRel):]
			}
		})
		if err != nil {
			return err
		}
		if len(moved) == 0 {
			return invalidf("directory %s has no files", oldRel)
		}
	} else {
		moved[oldRel] = newRel
	}

	if e.files.Exists(newRel) {
		return invalidf("move destination %s already exists", newRel)
	}

	// Created/deleted entries carry the content as an insertion edit so the
	// apply path needs no special copy step.
	for from, to := range moved {
		text, err := e.readText(from)
		if err != nil {
			return err
		}
		if updateImports {
			if rewritten, ok := e.rewriteMovedFileImports(p, from, to, moved, text); ok {
				text = rewritten
			}
		}
		p.Created = append(p.Created, to)
		p.Deleted = append(p.Deleted, from)
		p.AddEdits(to, plan.TextEdit{Range: textpos.Range{}, NewText: text})
	}

	if !updateImports {
		return nil
	}

	// Rust referencing is by crate/module name, not by path; a directory
	// rename maps to a module-name rewrite with prefix expansion.
	var rustRewrite *adapters.Rewrite
	if isDir {
		oldName := crateName(path.Base(oldRel))
		newName := crateName(path.Base(newRel))
		if oldName != newName {
			rustRewrite = &adapters.Rewrite{OldModule: oldName, NewModule: newName}
		}
	}

	// Rewrite importers outside the moved set, once per file.
	var walkErr error
	err = e.walkFiles(func(rel string) {
		if walkErr != nil {
			return
		}
		if _, isMoved := moved[rel]; isMoved {
			return
		}
		adapter := e.adapters.ForPath(rel)
		if adapter == nil {
			return
		}
		text, err := e.readText(rel)
		if err != nil {
			return
		}
		rewrites := e.collectRewrites(adapter, rel, rel, text, moved)
		if adapter.Language() == "rust" && rustRewrite != nil {
			rewrites = append(rewrites, *rustRewrite)
		}
		if len(rewrites) == 0 {
			return
		}
		rewritten, err := adapter.RewriteImports(text, rewrites)
		if err != nil {
			p.Warn("rewrite_failed", rel+": "+err.Error())
			return
		}
		for _, edit := range diffToEdits(text, rewritten) {
			p.AddEdits(rel, edit)
		}
	})
	if err != nil {
		return err
	}
	return walkErr
}

// rewriteMovedFileImports fixes a moved file's own imports for its new
// location. Targets inside the moved set resolve to their new homes.
func (e *Engine) rewriteMovedFileImports(p *plan.Plan, from, to string, moved map[string]string, text string) (string, bool) {
	adapter := e.adapters.ForPath(from)
	if adapter == nil {
		return "", false
	}
	rewrites := e.collectRewrites(adapter, from, to, text, moved)
	if len(rewrites) == 0 {
		return "", false
	}
	rewritten, err := adapter.RewriteImports(text, rewrites)
	if err != nil {
		p.Warn("rewrite_failed", from+": "+err.Error())
		return "", false
	}
	return rewritten, true
}

// collectRewrites maps each import of the file at importerRel (to be located
// at importerNewRel after the move) to its post-move specifier.
func (e *Engine) collectRewrites(adapter adapters.Adapter, importerRel, importerNewRel, text string, moved map[string]string) []adapters.Rewrite {
	parsed, err := adapter.Parse(text, importerRel)
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var rewrites []adapters.Rewrite
	for _, imp := range adapter.ExtractImports(parsed) {
		if seen[imp.ModulePath] {
			continue
		}
		target, ok := e.resolveImport(adapter.Language(), importerRel, imp.ModulePath)
		if !ok {
			continue
		}
		newTarget, movedTarget := moved[target]
		if !movedTarget {
			newTarget = target
		}
		if !movedTarget && importerRel == importerNewRel {
			continue // neither side moves
		}
		newSpec := e.newSpecifier(adapter.Language(), importerNewRel, newTarget, imp.ModulePath)
		if newSpec == "" || newSpec == imp.ModulePath {
			continue
		}
		seen[imp.ModulePath] = true
		rewrites = append(rewrites, adapters.Rewrite{OldModule: imp.ModulePath, NewModule: newSpec})
	}
	return rewrites
}

// crateName normalizes a directory name into the Rust module identifier it
// is referenced by.
func crateName(base string) string {
	return strings.ReplaceAll(base, "-", "_")
}

var tsResolveExts = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"}

// resolveImport maps a module specifier to a workspace-relative file path.
// Unresolvable specifiers (package imports, std modules) report ok=false.
func (e *Engine) resolveImport(language, importerRel, module string) (string, bool) {
	switch language {
	case "typescript":
		if !strings.HasPrefix(module, ".") {
			return "", false
		}
		base := join(path.Dir(importerRel), module)
		if e.files.Exists(base) && path.Ext(base) != "" {
			return base, true
		}
		for _, ext := range tsResolveExts {
			if e.files.Exists(base + ext) {
				return base + ext, true
			}
		}
		for _, ext := range tsResolveExts {
			if e.files.Exists(path.Join(base, "index"+ext)) {
				return path.Join(base, "index"+ext), true
			}
		}
		return "", false
	case "python":
		base := strings.ReplaceAll(module, ".", "/")
		if e.files.Exists(base + ".py") {
			return base + ".py", true
		}
		if e.files.Exists(path.Join(base, "__init__.py")) {
			return path.Join(base, "__init__.py"), true
		}
		return "", false
	default:
		return "", false
	}
}

// newSpecifier renders the import path for target as seen from the
// importer's directory, matching the old specifier's style where possible.
func (e *Engine) newSpecifier(language, importerRel, target, oldSpec string) string {
	switch language {
	case "typescript":
		rel, err := filepath.Rel(path.Dir(importerRel), target)
		if err != nil {
			return ""
		}
		spec := filepath.ToSlash(rel)
		if path.Ext(oldSpec) == "" {
			// Old specifier was extensionless; keep it that way.
			if strings.HasSuffix(spec, "/index"+path.Ext(target)) {
				spec = strings.TrimSuffix(spec, "/index"+path.Ext(target))
			} else {
				spec = strings.TrimSuffix(spec, path.Ext(target))
			}
		}
		if !strings.HasPrefix(spec, ".") {
			spec = "./" + spec
		}
		return spec
	case "python":
		spec := strings.TrimSuffix(target, ".py")
		spec = strings.TrimSuffix(spec, "/__init__")
		return strings.ReplaceAll(spec, "/", ".")
	default:
		return ""
	}
}
