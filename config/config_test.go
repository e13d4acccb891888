package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadJSON(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, ".typemill/config.json", `{
		"servers": [
			{"extensions": ["ts","tsx"], "command": ["typescript-language-server","--stdio"], "restartInterval": 10},
			{"extensions": ["rs"], "command": ["rust-analyzer"]}
		],
		"cache": {"enabled": true, "ttl_seconds": 3600}
	}`)

	cfg, err := Load(root)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 2)
	require.Equal(t, 10, cfg.Servers[0].RestartInterval)
	require.True(t, cfg.Cache.Enabled)

	srv := cfg.ServerFor(".tsx")
	require.NotNil(t, srv)
	require.Equal(t, "typescript-language-server", srv.Command[0])
	require.Nil(t, cfg.ServerFor("py"))
}

func TestLoadYAMLAndLegacyDir(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, ".codebuddy/config.yaml", `
servers:
  - extensions: [go]
    command: [gopls, serve]
`)
	cfg, err := Load(root)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)
	require.Equal(t, "gopls", cfg.Servers[0].Command[0])
}

func TestEnvOverrides(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, ".typemill/config.json", `{"cache": {"enabled": false}}`)

	t.Setenv("MILL__CACHE__ENABLED", "true")
	t.Setenv("CB__TIMEOUT_SECONDS", "5")
	cfg, err := Load(root)
	require.NoError(t, err)
	require.True(t, cfg.Cache.Enabled)
	require.Equal(t, 5, cfg.TimeoutSeconds)
}

func TestValidateRejectsBadBlocks(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, ".typemill/config.json", `{"servers": [{"extensions": [], "command": ["x"]}]}`)
	_, err := Load(root)
	require.Error(t, err)
}

func TestMissingConfigIsEmpty(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Empty(t, cfg.Servers)
	require.Equal(t, "30s", cfg.RequestTimeout().String())
}

func TestPresetLayering(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, ".typemill/refactor.toml", `
[defaults]
dry_run = false
rollback_on_error = true
validate_checksums = true

[presets.safe]
validate_checksums = true

[presets.aggressive]
validate_checksums = false
`)
	presets, err := LoadPresets(root)
	require.NoError(t, err)

	merged, err := presets.Resolve("aggressive")
	require.NoError(t, err)
	require.False(t, *merged.ValidateChecksums)
	require.True(t, *merged.RollbackOnError) // inherited from defaults

	_, err = presets.Resolve("nope")
	require.Error(t, err)

	merged, err = presets.Resolve("")
	require.NoError(t, err)
	require.True(t, *merged.ValidateChecksums)
}
