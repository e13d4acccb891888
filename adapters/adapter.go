// Package adapters holds the per-language source analyzers the refactoring
// engine uses where the LSP cannot help: import extraction, import
// rewriting, and manifest surgery. Adapters are pure functions over source
// text; byte offsets are the native coordinate system.
package adapters

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pleme-io/typemill/textpos"
)

// ImportKind classifies an import statement.
type ImportKind string

const (
	KindModule     ImportKind = "Module"
	KindNamed      ImportKind = "Named"
	KindNamespace  ImportKind = "Namespace"
	KindDefault    ImportKind = "Default"
	KindSideEffect ImportKind = "Side-effect"
)

// ImportedName is one binding introduced by an import.
type ImportedName struct {
	Name  string
	Alias string
}

// ByteRange is a [Start, End) byte span into the source.
type ByteRange struct {
	Start int
	End   int
}

// ImportInfo describes one import statement.
type ImportInfo struct {
	ModulePath string
	Kind       ImportKind
	Names      []ImportedName
	Stmt       ByteRange // the whole statement
	Module     ByteRange // the module specifier, quotes excluded
	TypeOnly   bool
}

// ParsedSource is the adapter-independent parse product.
type ParsedSource struct {
	Path     string
	Source   string
	Language string
	Imports  []ImportInfo
}

// Rewrite maps one module specifier to its replacement.
type Rewrite struct {
	OldModule string
	NewModule string
}

// ParseError reports an unparseable source file.
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %s", e.Path, e.Reason) }

// Adapter is a language-specific analyzer. Implementations are stateless;
// every method is a pure function of its arguments.
type Adapter interface {
	Language() string
	Extensions() []string
	Parse(source, path string) (*ParsedSource, error)
	ExtractImports(parsed *ParsedSource) []ImportInfo
	// RewriteImports applies the rewrites and returns the new text. The
	// identity rewrite returns byte-identical output; untouched files come
	// back unchanged. Quote style, line endings, and the trailing newline
	// are preserved.
	RewriteImports(source string, rewrites []Rewrite) (string, error)
	FindReferences(source, symbol string) []textpos.Range
	Manifests() []string
	ParseManifest(kind, content string) (*Manifest, error)
	EmitManifest(m *Manifest) (string, error)
}

// Registry resolves adapters by file extension. Unknown extensions resolve
// to nil and bypass adapter-backed features entirely.
type Registry struct {
	byExt      map[string]Adapter
	byManifest map[string]Adapter
	all        []Adapter
}

// NewRegistry builds a registry with the default adapter set.
func NewRegistry() *Registry {
	r := &Registry{byExt: map[string]Adapter{}, byManifest: map[string]Adapter{}}
	for _, a := range []Adapter{
		NewTypeScriptAdapter(),
		NewPythonAdapter(),
		NewGoAdapter(),
		NewRustAdapter(),
	} {
		r.register(a)
	}
	return r
}

func (r *Registry) register(a Adapter) {
	r.all = append(r.all, a)
	for _, ext := range a.Extensions() {
		r.byExt[strings.TrimPrefix(ext, ".")] = a
	}
	for _, m := range a.Manifests() {
		r.byManifest[m] = a
	}
}

// ForPath returns the adapter owning path's extension, or nil.
func (r *Registry) ForPath(path string) Adapter {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	return r.byExt[ext]
}

// ForManifest returns the adapter owning a manifest file name, or nil.
func (r *Registry) ForManifest(name string) Adapter {
	return r.byManifest[filepath.Base(name)]
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter { return r.all }

// rewriteSpans splices replacement module specifiers into source using the
// import spans discovered by a parse. Shared by every adapter: rewriting is
// span surgery, so whitespace, quotes, and line endings survive untouched.
func rewriteSpans(source string, imports []ImportInfo, rewrites []Rewrite) string {
	replacement := make(map[string]string, len(rewrites))
	for _, rw := range rewrites {
		replacement[rw.OldModule] = rw.NewModule
	}
	var out strings.Builder
	last := 0
	for _, imp := range imports {
		next, ok := replacement[imp.ModulePath]
		if !ok || next == imp.ModulePath {
			continue
		}
		out.WriteString(source[last:imp.Module.Start])
		out.WriteString(next)
		last = imp.Module.End
	}
	out.WriteString(source[last:])
	return out.String()
}

// findWordReferences is the LSP-less fallback reference scan: exact
// identifier matches bounded by non-identifier characters.
func findWordReferences(source, symbol string) []textpos.Range {
	if symbol == "" {
		return nil
	}
	isWord := func(b byte) bool {
		return b == '_' || b == '$' ||
			(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
	}
	ix := textpos.NewIndex(source)
	var out []textpos.Range
	for off := 0; ; {
		i := strings.Index(source[off:], symbol)
		if i < 0 {
			break
		}
		start := off + i
		end := start + len(symbol)
		off = end
		if start > 0 && isWord(source[start-1]) {
			continue
		}
		if end < len(source) && isWord(source[end]) {
			continue
		}
		out = append(out, textpos.Range{Start: ix.Pos(start), End: ix.Pos(end)})
	}
	return out
}
