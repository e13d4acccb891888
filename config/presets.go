package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ApplyDefaults mirror the tunable fields of an apply call. Pointer fields
// distinguish "unset" from an explicit false so preset layering works.
type ApplyDefaults struct {
	DryRun            *bool   `toml:"dry_run"`
	RollbackOnError   *bool   `toml:"rollback_on_error"`
	ValidateChecksums *bool   `toml:"validate_checksums"`
	FailOnStderr      *bool   `toml:"fail_on_stderr"`
	ValidationCommand *string `toml:"validation_command"`
}

// Presets holds the parsed refactor.toml.
type Presets struct {
	Defaults ApplyDefaults            `toml:"defaults"`
	Presets  map[string]ApplyDefaults `toml:"presets"`
}

// LoadPresets reads .typemill/refactor.toml (or the .codebuddy variant).
// A missing file yields empty presets.
func LoadPresets(root string) (*Presets, error) {
	for _, dir := range ConfigDirs {
		path := filepath.Join(root, dir, "refactor.toml")
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read presets %s: %w", path, err)
		}
		p := &Presets{}
		if err := toml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("parse presets %s: %w", path, err)
		}
		return p, nil
	}
	return &Presets{}, nil
}

// Resolve layers defaults, then the named preset, returning the merged
// settings. An unknown preset name is an error.
func (p *Presets) Resolve(name string) (ApplyDefaults, error) {
	merged := p.Defaults
	if name == "" {
		return merged, nil
	}
	preset, ok := p.Presets[name]
	if !ok {
		return ApplyDefaults{}, fmt.Errorf("unknown preset %q", name)
	}
	merged.merge(preset)
	return merged, nil
}

func (d *ApplyDefaults) merge(over ApplyDefaults) {
	if over.DryRun != nil {
		d.DryRun = over.DryRun
	}
	if over.RollbackOnError != nil {
		d.RollbackOnError = over.RollbackOnError
	}
	if over.ValidateChecksums != nil {
		d.ValidateChecksums = over.ValidateChecksums
	}
	if over.FailOnStderr != nil {
		d.FailOnStderr = over.FailOnStderr
	}
	if over.ValidationCommand != nil {
		d.ValidationCommand = over.ValidationCommand
	}
}
