// Package workspace resolves paths and URIs against a project root and
// carries the file-change event bus shared by the file service and the
// language server registry.
package workspace

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.lsp.dev/uri"
)

// Root is the absolute path of the workspace under operation.
type Root struct {
	path string
}

// NewRoot resolves dir to an absolute workspace root.
func NewRoot(dir string) (*Root, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &Root{path: abs}, nil
}

// Path returns the absolute root path.
func (r *Root) Path() string { return r.path }

// URI returns the file:// URI of the root.
func (r *Root) URI() uri.URI { return uri.File(r.path) }

// Abs resolves a workspace-relative or absolute path to an absolute one.
// Escaping the root is rejected.
func (r *Root) Abs(path string) (string, error) {
	p := filepath.FromSlash(path)
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.path, p)
	}
	p = filepath.Clean(p)
	if p != r.path && !strings.HasPrefix(p, r.path+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes workspace root", path)
	}
	return p, nil
}

// Rel converts an absolute path to the workspace-relative POSIX form used as
// the canonical key for checksums and plan edits.
func (r *Root) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(r.path, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q outside workspace root", abs)
	}
	return filepath.ToSlash(rel), nil
}

// FileURI returns the percent-encoded file:// URI for a workspace path.
func (r *Root) FileURI(path string) (uri.URI, error) {
	abs, err := r.Abs(path)
	if err != nil {
		return "", err
	}
	return uri.File(abs), nil
}

// FromURI converts a file:// URI back to a workspace-relative POSIX path.
func (r *Root) FromURI(u uri.URI) (string, error) {
	return r.Rel(u.Filename())
}
