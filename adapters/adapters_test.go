package adapters

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	require.Equal(t, "typescript", r.ForPath("src/a.tsx").Language())
	require.Equal(t, "python", r.ForPath("pkg/m.py").Language())
	require.Equal(t, "go", r.ForPath("main.go").Language())
	require.Equal(t, "rust", r.ForPath("lib.rs").Language())
	require.Nil(t, r.ForPath("README.md"))
	require.Equal(t, "rust", r.ForManifest("crates/demo/Cargo.toml").Language())
	require.Nil(t, r.ForManifest("Makefile"))
}

func TestPythonParseAndRewrite(t *testing.T) {
	src := "import os\nimport old_pkg.helpers as h, sys\nfrom old_pkg.core import run, stop as halt\n"
	a := NewPythonAdapter()
	parsed, err := a.Parse(src, "m.py")
	require.NoError(t, err)

	modules := map[string]ImportKind{}
	for _, imp := range parsed.Imports {
		modules[imp.ModulePath] = imp.Kind
	}
	require.Contains(t, modules, "os")
	require.Contains(t, modules, "old_pkg.helpers")
	require.Contains(t, modules, "sys")
	require.Contains(t, modules, "old_pkg.core")
	require.Equal(t, KindNamed, modules["old_pkg.core"])

	out, err := a.RewriteImports(src, []Rewrite{
		{OldModule: "old_pkg.helpers", NewModule: "new_pkg.helpers"},
		{OldModule: "old_pkg.core", NewModule: "new_pkg.core"},
	})
	require.NoError(t, err)
	require.Equal(t, "import os\nimport new_pkg.helpers as h, sys\nfrom new_pkg.core import run, stop as halt\n", out)
}

func TestPythonFromImportNames(t *testing.T) {
	a := NewPythonAdapter()
	parsed, err := a.Parse("from x import a, b as c\n", "m.py")
	require.NoError(t, err)
	require.Len(t, parsed.Imports, 1)
	names := parsed.Imports[0].Names
	require.Equal(t, "a", names[0].Name)
	require.Equal(t, "b", names[1].Name)
	require.Equal(t, "c", names[1].Alias)
}

func TestGoParseAndRewrite(t *testing.T) {
	src := `package demo

import "fmt"

import (
	"os"
	alias "github.com/old/pkg"
	_ "github.com/side/effect"
)
`
	a := NewGoAdapter()
	parsed, err := a.Parse(src, "demo.go")
	require.NoError(t, err)
	require.Len(t, parsed.Imports, 4)

	byModule := map[string]ImportInfo{}
	for _, imp := range parsed.Imports {
		byModule[imp.ModulePath] = imp
	}
	require.Equal(t, "alias", byModule["github.com/old/pkg"].Names[0].Alias)
	require.Equal(t, KindSideEffect, byModule["github.com/side/effect"].Kind)

	out, err := a.RewriteImports(src, []Rewrite{{OldModule: "github.com/old/pkg", NewModule: "github.com/new/pkg"}})
	require.NoError(t, err)
	require.Contains(t, out, "alias \"github.com/new/pkg\"")
	require.Contains(t, out, "\"os\"")
}

func TestRustParseAndRewrite(t *testing.T) {
	src := "use cb_old::engine::{run, stop};\nuse cb_old::util as helpers;\nmod server;\n"
	a := NewRustAdapter()
	parsed, err := a.Parse(src, "lib.rs")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(parsed.Imports), 3)

	out, err := a.RewriteImports(src, []Rewrite{{OldModule: "cb_old", NewModule: "cb_new"}})
	require.NoError(t, err)
	require.Equal(t, "use cb_new::engine::{run, stop};\nuse cb_new::util as helpers;\nmod server;\n", out)
}

func TestRustRewriteIdentity(t *testing.T) {
	src := "use crate_a::x;\n"
	a := NewRustAdapter()
	out, err := a.RewriteImports(src, []Rewrite{{OldModule: "crate_a", NewModule: "crate_a"}})
	require.NoError(t, err)
	require.Equal(t, src, out)
}

func TestCargoManifest(t *testing.T) {
	content := `[package]
name = "old-crate"
version = "0.3.1"

[dependencies]
serde = { version = "1.0", features = ["derive"] }
anyhow = "1.0"
`
	a := NewRustAdapter()
	m, err := a.ParseManifest("Cargo.toml", content)
	require.NoError(t, err)
	require.Equal(t, "old-crate", m.Name)
	require.Equal(t, "1.0", m.Dependencies["serde"])
	require.Equal(t, "1.0", m.Dependencies["anyhow"])

	m.Name = "new-crate"
	out, err := a.EmitManifest(m)
	require.NoError(t, err)
	require.Contains(t, out, `name = "new-crate"`)
	require.Contains(t, out, `serde = { version = "1.0", features = ["derive"] }`)
}

func TestPyprojectManifest(t *testing.T) {
	content := `[project]
name = "demo"
version = "0.1.0"
dependencies = ["requests>=2.0", "rich"]
`
	a := NewPythonAdapter()
	m, err := a.ParseManifest("pyproject.toml", content)
	require.NoError(t, err)
	require.Equal(t, ">=2.0", m.Dependencies["requests"])
	require.Equal(t, "", m.Dependencies["rich"])
}

func TestGoModManifest(t *testing.T) {
	content := "module github.com/old/mod\n\ngo 1.22\n\nrequire github.com/stretchr/testify v1.11.1\n"
	a := NewGoAdapter()
	m, err := a.ParseManifest("go.mod", content)
	require.NoError(t, err)
	require.Equal(t, "github.com/old/mod", m.Name)
	require.Equal(t, "v1.11.1", m.Dependencies["github.com/stretchr/testify"])

	m.Name = "github.com/new/mod"
	out, err := a.EmitManifest(m)
	require.NoError(t, err)
	require.Contains(t, out, "module github.com/new/mod")
}
