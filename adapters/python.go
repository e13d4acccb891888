package adapters

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/pleme-io/typemill/textpos"
)

// PythonAdapter scans Python import statements and pyproject manifests.
type PythonAdapter struct{}

// NewPythonAdapter returns the Python adapter.
func NewPythonAdapter() *PythonAdapter { return &PythonAdapter{} }

func (a *PythonAdapter) Language() string     { return "python" }
func (a *PythonAdapter) Extensions() []string { return []string{"py", "pyi"} }
func (a *PythonAdapter) Manifests() []string  { return []string{"pyproject.toml"} }

var (
	pyImportRe = regexp.MustCompile(`(?m)^[ \t]*import[ \t]+(.+?)[ \t]*(?:#.*)?$`)
	pyFromRe   = regexp.MustCompile(`(?m)^[ \t]*from[ \t]+([\w\.]+)[ \t]+import[ \t]+(.+?)[ \t]*(?:#.*)?$`)
	pyModuleRe = regexp.MustCompile(`[\w\.]+`)
)

func (a *PythonAdapter) Parse(source, path string) (*ParsedSource, error) {
	parsed := &ParsedSource{Path: path, Source: source, Language: a.Language()}

	for _, m := range pyFromRe.FindAllStringSubmatchIndex(source, -1) {
		imp := ImportInfo{
			ModulePath: source[m[2]:m[3]],
			Kind:       KindNamed,
			Stmt:       ByteRange{Start: m[0], End: m[1]},
			Module:     ByteRange{Start: m[2], End: m[3]},
		}
		for _, part := range strings.Split(source[m[4]:m[5]], ",") {
			part = strings.TrimSpace(strings.Trim(part, "()"))
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
		parsed.Imports = append(parsed.Imports, imp)
	}

	for _, m := range pyImportRe.FindAllStringSubmatchIndex(source, -1) {
		if insideAny(parsed.Imports, m[0]) {
			continue
		}
		// `import a.b as x, c.d` introduces one ImportInfo per module so
		// each specifier gets its own rewritable span.
		list := source[m[2]:m[3]]
		for _, loc := range pyModuleRe.FindAllStringIndex(list, -1) {
			segment := list[loc[0]:loc[1]]
			if segment == "as" {
				continue
			}
			// Skip alias names: they follow an "as" token.
			before := strings.TrimSpace(list[:loc[0]])
			if strings.HasSuffix(before, " as") || strings.HasSuffix(before, "\tas") || before == "as" {
				continue
			}
			start := m[2] + loc[0]
			parsed.Imports = append(parsed.Imports, ImportInfo{
				ModulePath: segment,
				Kind:       KindModule,
				Stmt:       ByteRange{Start: m[0], End: m[1]},
				Module:     ByteRange{Start: start, End: start + len(segment)},
			})
		}
	}
	sortModuleSpans(parsed.Imports)
	return parsed, nil
}

func (a *PythonAdapter) ExtractImports(parsed *ParsedSource) []ImportInfo {
	return parsed.Imports
}

func (a *PythonAdapter) RewriteImports(source string, rewrites []Rewrite) (string, error) {
	if len(rewrites) == 0 {
		return source, nil
	}
	parsed, err := a.Parse(source, "")
	if err != nil {
		return "", err
	}
	return rewriteSpans(source, parsed.Imports, rewrites), nil
}

func (a *PythonAdapter) FindReferences(source, symbol string) []textpos.Range {
	return findWordReferences(source, symbol)
}

func (a *PythonAdapter) ParseManifest(kind, content string) (*Manifest, error) {
	if kind != "pyproject.toml" {
		return nil, fmt.Errorf("unsupported manifest %q", kind)
	}
	var doc struct {
		Project struct {
			Name         string   `toml:"name"`
			Version      string   `toml:"version"`
			Dependencies []string `toml:"dependencies"`
		} `toml:"project"`
	}
	if err := toml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("pyproject.toml: %w", err)
	}
	m := &Manifest{
		Kind:         kind,
		Name:         doc.Project.Name,
		Version:      doc.Project.Version,
		Dependencies: map[string]string{},
		Raw:          content,
	}
	for _, dep := range doc.Project.Dependencies {
		name, constraint := splitRequirement(dep)
		m.Dependencies[name] = constraint
	}
	return m, m.ValidateVersion()
}

func (a *PythonAdapter) EmitManifest(m *Manifest) (string, error) {
	if m.Kind != "pyproject.toml" {
		return "", fmt.Errorf("unsupported manifest %q", m.Kind)
	}
	// Name/version updates splice into the raw text so the rest of the
	// document keeps its formatting.
	out := m.Raw
	if m.Name != "" {
		out = tomlSetString(out, "name", m.Name)
	}
	if m.Version != "" {
		out = tomlSetString(out, "version", m.Version)
	}
	return out, nil
}

var tomlKeyRe = map[string]*regexp.Regexp{}

func tomlSetString(doc, key, value string) string {
	re, ok := tomlKeyRe[key]
	if !ok {
		re = regexp.MustCompile(`(?m)^(` + key + `[ \t]*=[ \t]*)"[^"]*"`)
		tomlKeyRe[key] = re
	}
	return re.ReplaceAllString(doc, `${1}"`+value+`"`)
}

// splitRequirement splits a PEP 508 requirement into name and constraint.
func splitRequirement(req string) (string, string) {
	req = strings.TrimSpace(req)
	for i, r := range req {
		if strings.ContainsRune("<>=!~; [", r) {
			return strings.TrimSpace(req[:i]), strings.TrimSpace(req[i:])
		}
	}
	return req, ""
}

func sortModuleSpans(imports []ImportInfo) {
	for i := 1; i < len(imports); i++ {
		for j := i; j > 0 && imports[j].Module.Start < imports[j-1].Module.Start; j-- {
			imports[j], imports[j-1] = imports[j-1], imports[j]
		}
	}
}
