package adapters

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/sjson"

	"github.com/pleme-io/typemill/textpos"
)

// TypeScriptAdapter covers the TypeScript/JavaScript family. One adapter
// serves both languages; the syntax of import statements is shared.
type TypeScriptAdapter struct{}

// NewTypeScriptAdapter returns the TS/JS adapter.
func NewTypeScriptAdapter() *TypeScriptAdapter { return &TypeScriptAdapter{} }

func (a *TypeScriptAdapter) Language() string { return "typescript" }

func (a *TypeScriptAdapter) Extensions() []string {
	return []string{"ts", "tsx", "js", "jsx", "mjs", "cjs"}
}

func (a *TypeScriptAdapter) Manifests() []string {
	return []string{"package.json", "tsconfig.json"}
}

var (
	// import … from '…'  /  export … from '…'
	tsFromRe = regexp.MustCompile(`(?m)^[ \t]*(import|export)\b([^'";\n]*?)\bfrom[ \t]*(['"])([^'"\n]*)['"]`)
	// import '…'  (side effect)
	tsBareRe = regexp.MustCompile(`(?m)^[ \t]*import[ \t]*(['"])([^'"\n]*)['"]`)
	// require('…') / import('…')
	tsCallRe = regexp.MustCompile(`\b(require|import)\(\s*(['"])([^'"\n]*)['"]\s*\)`)
)

func (a *TypeScriptAdapter) Parse(source, path string) (*ParsedSource, error) {
	parsed := &ParsedSource{Path: path, Source: source, Language: a.Language()}

	for _, m := range tsFromRe.FindAllStringSubmatchIndex(source, -1) {
		clause := source[m[4]:m[5]]
		imp := ImportInfo{
			ModulePath: source[m[8]:m[9]],
			Stmt:       ByteRange{Start: m[0], End: m[1]},
			Module:     ByteRange{Start: m[8], End: m[9]},
			TypeOnly:   strings.HasPrefix(strings.TrimSpace(clause), "type "),
		}
		imp.Kind, imp.Names = parseTSClause(clause)
		parsed.Imports = append(parsed.Imports, imp)
	}
	for _, m := range tsBareRe.FindAllStringSubmatchIndex(source, -1) {
		if insideAny(parsed.Imports, m[0]) {
			continue
		}
		parsed.Imports = append(parsed.Imports, ImportInfo{
			ModulePath: source[m[4]:m[5]],
			Kind:       KindSideEffect,
			Stmt:       ByteRange{Start: m[0], End: m[1]},
			Module:     ByteRange{Start: m[4], End: m[5]},
		})
	}
	for _, m := range tsCallRe.FindAllStringSubmatchIndex(source, -1) {
		parsed.Imports = append(parsed.Imports, ImportInfo{
			ModulePath: source[m[6]:m[7]],
			Kind:       KindModule,
			Stmt:       ByteRange{Start: m[0], End: m[1]},
			Module:     ByteRange{Start: m[6], End: m[7]},
		})
	}
	sortImports(parsed.Imports)
	return parsed, nil
}

// parseTSClause classifies the text between `import`/`export` and `from`.
func parseTSClause(clause string) (ImportKind, []ImportedName) {
	clause = strings.TrimSpace(clause)
	clause = strings.TrimPrefix(clause, "type ")
	clause = strings.TrimSpace(clause)

	if strings.HasPrefix(clause, "*") {
		name := ""
		if i := strings.Index(clause, " as "); i >= 0 {
			name = strings.TrimSpace(clause[i+4:])
		}
		return KindNamespace, []ImportedName{{Name: "*", Alias: name}}
	}
	var names []ImportedName
	kind := KindModule
	if open := strings.IndexByte(clause, '{'); open >= 0 {
		kind = KindNamed
		if def := strings.TrimSuffix(strings.TrimSpace(clause[:open]), ","); def != "" {
			names = append(names, ImportedName{Name: def})
			kind = KindDefault
		}
		inner := clause[open+1:]
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
			names = append(names, n)
		}
	} else if clause != "" {
		kind = KindDefault
		names = append(names, ImportedName{Name: clause})
	}
	return kind, names
}

func (a *TypeScriptAdapter) ExtractImports(parsed *ParsedSource) []ImportInfo {
	return parsed.Imports
}

func (a *TypeScriptAdapter) RewriteImports(source string, rewrites []Rewrite) (string, error) {
	if len(rewrites) == 0 {
		return source, nil
	}
	parsed, err := a.Parse(source, "")
	if err != nil {
		return "", err
	}
	return rewriteSpans(source, parsed.Imports, rewrites), nil
}

func (a *TypeScriptAdapter) FindReferences(source, symbol string) []textpos.Range {
	return findWordReferences(source, symbol)
}

func (a *TypeScriptAdapter) ParseManifest(kind, content string) (*Manifest, error) {
	switch kind {
	case "package.json":
		if !gjson.Valid(content) {
			return nil, fmt.Errorf("package.json: invalid JSON")
		}
		m := &Manifest{
			Kind:         kind,
			Name:         gjson.Get(content, "name").String(),
			Version:      gjson.Get(content, "version").String(),
			Dependencies: map[string]string{},
			Raw:          content,
		}
		for _, section := range []string{"dependencies", "devDependencies", "peerDependencies"} {
			gjson.Get(content, section).ForEach(func(key, value gjson.Result) bool {
				m.Dependencies[key.String()] = value.String()
				return true
			})
		}
		return m, m.ValidateVersion()
	case "tsconfig.json":
		// tsconfig allows comments and trailing commas.
		clean := string(jsonc.ToJSON([]byte(content)))
		if !gjson.Valid(clean) {
			return nil, fmt.Errorf("tsconfig.json: invalid JSONC")
		}
		m := &Manifest{Kind: kind, Dependencies: map[string]string{}, Raw: content}
		gjson.Get(clean, "compilerOptions.paths").ForEach(func(key, value gjson.Result) bool {
			if arr := value.Array(); len(arr) > 0 {
				m.Dependencies[key.String()] = arr[0].String()
			}
			return true
		})
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported manifest %q", kind)
	}
}

func (a *TypeScriptAdapter) EmitManifest(m *Manifest) (string, error) {
	switch m.Kind {
	case "package.json":
		// Surgical updates keep the author's formatting.
		out := m.Raw
		var err error
		if m.Name != "" {
			if out, err = sjson.Set(out, "name", m.Name); err != nil {
				return "", err
			}
		}
		if m.Version != "" {
			if out, err = sjson.Set(out, "version", m.Version); err != nil {
				return "", err
			}
		}
		for name, constraint := range m.Dependencies {
			if gjson.Get(out, "dependencies."+escapeJSONKey(name)).Exists() {
				if out, err = sjson.Set(out, "dependencies."+escapeJSONKey(name), constraint); err != nil {
					return "", err
				}
			}
		}
		return out, nil
	case "tsconfig.json":
		return m.Raw, nil
	default:
		return "", fmt.Errorf("unsupported manifest %q", m.Kind)
	}
}

// escapeJSONKey protects dots in dependency names like @scope/pkg from being
// treated as path separators by gjson/sjson.
func escapeJSONKey(key string) string {
	return strings.ReplaceAll(key, ".", `\.`)
}

func insideAny(imports []ImportInfo, offset int) bool {
	for _, imp := range imports {
		if offset >= imp.Stmt.Start && offset < imp.Stmt.End {
			return true
		}
	}
	return false
}

func sortImports(imports []ImportInfo) {
	for i := 1; i < len(imports); i++ {
		for j := i; j > 0 && imports[j].Stmt.Start < imports[j-1].Stmt.Start; j-- {
			imports[j], imports[j-1] = imports[j-1], imports[j]
		}
	}
}
