package adapters

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/pleme-io/typemill/textpos"
)

// RustAdapter scans Rust use declarations and the Cargo.toml manifest.
type RustAdapter struct{}

// NewRustAdapter returns the Rust adapter.
func NewRustAdapter() *RustAdapter { return &RustAdapter{} }

func (a *RustAdapter) Language() string     { return "rust" }
func (a *RustAdapter) Extensions() []string { return []string{"rs"} }
func (a *RustAdapter) Manifests() []string  { return []string{"Cargo.toml"} }

var (
	rustUseRe = regexp.MustCompile(`(?m)^[ \t]*(?:pub(?:\([^)]*\))?[ \t]+)?use[ \t]+([A-Za-z0-9_]+(?:::[A-Za-z0-9_]+)*)`)
	rustModRe = regexp.MustCompile(`(?m)^[ \t]*(?:pub(?:\([^)]*\))?[ \t]+)?mod[ \t]+([A-Za-z0-9_]+)[ \t]*;`)
)

func (a *RustAdapter) Parse(source, path string) (*ParsedSource, error) {
	parsed := &ParsedSource{Path: path, Source: source, Language: a.Language()}

	for _, m := range rustUseRe.FindAllStringSubmatchIndex(source, -1) {
		pathText := source[m[2]:m[3]]
		imp := ImportInfo{
			ModulePath: pathText,
			Kind:       KindModule,
			Stmt:       ByteRange{Start: m[0], End: stmtEnd(source, m[1])},
			Module:     ByteRange{Start: m[2], End: m[3]},
		}
		// `use a::b::{c, d}` binds names from the brace group.
		rest := source[m[3]:imp.Stmt.End]
		if open := strings.IndexByte(rest, '{'); open >= 0 {
			imp.Kind = KindNamed
			inner := rest[open+1:]
			if close := strings.IndexByte(inner, '}'); close >= 0 {
				inner = inner[:close]
			}
			for _, part := range strings.Split(inner, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				n := ImportedName{Name: part}
				if i := strings.Index(part, " as "); i >= 0 {
					n.Name = strings.TrimSpace(part[:i])
					n.Alias = strings.TrimSpace(part[i+4:])
				}
				imp.Names = append(imp.Names, n)
			}
		} else if i := strings.Index(rest, " as "); i >= 0 {
			alias := strings.TrimRight(strings.TrimSpace(rest[i+4:]), ";")
			last := pathText
			if j := strings.LastIndex(pathText, "::"); j >= 0 {
				last = pathText[j+2:]
			}
			imp.Names = []ImportedName{{Name: last, Alias: alias}}
		}
		parsed.Imports = append(parsed.Imports, imp)
	}
	for _, m := range rustModRe.FindAllStringSubmatchIndex(source, -1) {
		parsed.Imports = append(parsed.Imports, ImportInfo{
			ModulePath: source[m[2]:m[3]],
			Kind:       KindModule,
			Stmt:       ByteRange{Start: m[0], End: m[1]},
			Module:     ByteRange{Start: m[2], End: m[3]},
		})
	}
	sortModuleSpans(parsed.Imports)
	return parsed, nil
}

// stmtEnd extends a use statement to its terminating semicolon.
func stmtEnd(source string, from int) int {
	if i := strings.IndexByte(source[from:], ';'); i >= 0 {
		return from + i + 1
	}
	return from
}

func (a *RustAdapter) ExtractImports(parsed *ParsedSource) []ImportInfo {
	return parsed.Imports
}

func (a *RustAdapter) RewriteImports(source string, rewrites []Rewrite) (string, error) {
	if len(rewrites) == 0 {
		return source, nil
	}
	parsed, err := a.Parse(source, "")
	if err != nil {
		return "", err
	}
	// Rust paths rewrite by prefix too: renaming crate `old` must update
	// `use old::x` even when the recorded module path is `old::x`.
	expanded := make([]Rewrite, 0, len(rewrites))
	for _, imp := range parsed.Imports {
		for _, rw := range rewrites {
			switch {
			case imp.ModulePath == rw.OldModule:
				expanded = append(expanded, rw)
			case strings.HasPrefix(imp.ModulePath, rw.OldModule+"::"):
				expanded = append(expanded, Rewrite{
					OldModule: imp.ModulePath,
					NewModule: rw.NewModule + imp.ModulePath[len(rw.OldModule):],
				})
			}
		}
	}
	return rewriteSpans(source, parsed.Imports, expanded), nil
}

func (a *RustAdapter) FindReferences(source, symbol string) []textpos.Range {
	return findWordReferences(source, symbol)
}

func (a *RustAdapter) ParseManifest(kind, content string) (*Manifest, error) {
	if kind != "Cargo.toml" {
		return nil, fmt.Errorf("unsupported manifest %q", kind)
	}
	var doc struct {
		Package struct {
			Name    string `toml:"name"`
			Version string `toml:"version"`
		} `toml:"package"`
		Dependencies map[string]toml.Primitive `toml:"dependencies"`
	}
	md, err := toml.Decode(content, &doc)
	if err != nil {
		return nil, fmt.Errorf("Cargo.toml: %w", err)
	}
	m := &Manifest{
		Kind:         kind,
		Name:         doc.Package.Name,
		Version:      doc.Package.Version,
		Dependencies: map[string]string{},
		Raw:          content,
	}
	for name, prim := range doc.Dependencies {
		var version string
		if err := md.PrimitiveDecode(prim, &version); err == nil {
			m.Dependencies[name] = version
			continue
		}
		var table struct {
			Version string `toml:"version"`
		}
		if err := md.PrimitiveDecode(prim, &table); err == nil {
			m.Dependencies[name] = table.Version
		}
	}
	return m, m.ValidateVersion()
}

func (a *RustAdapter) EmitManifest(m *Manifest) (string, error) {
	if m.Kind != "Cargo.toml" {
		return "", fmt.Errorf("unsupported manifest %q", m.Kind)
	}
	out := m.Raw
	if m.Name != "" {
		out = tomlSetString(out, "name", m.Name)
	}
	if m.Version != "" {
		out = tomlSetString(out, "version", m.Version)
	}
	return out, nil
}
