package adapters

import (
	"fmt"
	"regexp"

	"golang.org/x/mod/modfile"

	"github.com/pleme-io/typemill/textpos"
)

// GoAdapter scans Go import declarations and the go.mod manifest.
type GoAdapter struct{}

// NewGoAdapter returns the Go adapter.
func NewGoAdapter() *GoAdapter { return &GoAdapter{} }

func (a *GoAdapter) Language() string     { return "go" }
func (a *GoAdapter) Extensions() []string { return []string{"go"} }
func (a *GoAdapter) Manifests() []string  { return []string{"go.mod"} }

var (
	goSingleRe = regexp.MustCompile(`(?m)^import[ \t]+(?:(\w+|\.|_)[ \t]+)?"([^"\n]+)"`)
	goBlockRe  = regexp.MustCompile(`(?ms)^import[ \t]*\((.*?)^\)`)
	goSpecRe   = regexp.MustCompile(`(?m)^[ \t]*(?:(\w+|\.|_)[ \t]+)?"([^"\n]+)"`)
)

func (a *GoAdapter) Parse(source, path string) (*ParsedSource, error) {
	parsed := &ParsedSource{Path: path, Source: source, Language: a.Language()}

	for _, m := range goSingleRe.FindAllStringSubmatchIndex(source, -1) {
		parsed.Imports = append(parsed.Imports, goImport(source, m, 0))
	}
	for _, block := range goBlockRe.FindAllStringSubmatchIndex(source, -1) {
		body := source[block[2]:block[3]]
		for _, m := range goSpecRe.FindAllStringSubmatchIndex(body, -1) {
			parsed.Imports = append(parsed.Imports, goImport(body, m, block[2]))
		}
	}
	sortModuleSpans(parsed.Imports)
	return parsed, nil
}

func goImport(text string, m []int, base int) ImportInfo {
	imp := ImportInfo{
		ModulePath: text[m[4]:m[5]],
		Kind:       KindModule,
		Stmt:       ByteRange{Start: base + m[0], End: base + m[1]},
		Module:     ByteRange{Start: base + m[4], End: base + m[5]},
	}
	if m[2] >= 0 {
		alias := text[m[2]:m[3]]
		imp.Names = []ImportedName{{Name: imp.ModulePath, Alias: alias}}
		if alias == "_" {
			imp.Kind = KindSideEffect
		}
	}
	return imp
}

func (a *GoAdapter) ExtractImports(parsed *ParsedSource) []ImportInfo {
	return parsed.Imports
}

func (a *GoAdapter) RewriteImports(source string, rewrites []Rewrite) (string, error) {
	if len(rewrites) == 0 {
		return source, nil
	}
	parsed, err := a.Parse(source, "")
	if err != nil {
		return "", err
	}
	return rewriteSpans(source, parsed.Imports, rewrites), nil
}

func (a *GoAdapter) FindReferences(source, symbol string) []textpos.Range {
	return findWordReferences(source, symbol)
}

func (a *GoAdapter) ParseManifest(kind, content string) (*Manifest, error) {
	if kind != "go.mod" {
		return nil, fmt.Errorf("unsupported manifest %q", kind)
	}
	f, err := modfile.Parse("go.mod", []byte(content), nil)
	if err != nil {
		return nil, fmt.Errorf("go.mod: %w", err)
	}
	m := &Manifest{Kind: kind, Dependencies: map[string]string{}, Raw: content}
	if f.Module != nil {
		m.Name = f.Module.Mod.Path
	}
	for _, req := range f.Require {
		m.Dependencies[req.Mod.Path] = req.Mod.Version
	}
	return m, nil
}

func (a *GoAdapter) EmitManifest(m *Manifest) (string, error) {
	if m.Kind != "go.mod" {
		return "", fmt.Errorf("unsupported manifest %q", m.Kind)
	}
	f, err := modfile.Parse("go.mod", []byte(m.Raw), nil)
	if err != nil {
		return "", err
	}
	if m.Name != "" && (f.Module == nil || f.Module.Mod.Path != m.Name) {
		if err := f.AddModuleStmt(m.Name); err != nil {
			return "", err
		}
	}
	out, err := f.Format()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
