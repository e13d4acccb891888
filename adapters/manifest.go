package adapters

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Manifest is the language-neutral view of a project manifest. Raw keeps the
// original text so emitters can do surgical updates instead of re-serializing
// the whole document.
type Manifest struct {
	Kind         string // file name: package.json, Cargo.toml, …
	Name         string
	Version      string
	Dependencies map[string]string
	Raw          string
}

// ValidateVersion checks the manifest's version field against semver. A
// missing version is fine; a malformed one is not.
func (m *Manifest) ValidateVersion() error {
	if m.Version == "" {
		return nil
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("%s: invalid version %q: %w", m.Kind, m.Version, err)
	}
	return nil
}

// DependencyConstraint parses a dependency's declared constraint. Non-semver
// constraints (git URLs, workspace refs) return nil without error.
func (m *Manifest) DependencyConstraint(name string) (*semver.Constraints, error) {
	raw, ok := m.Dependencies[name]
	if !ok {
		return nil, fmt.Errorf("%s: no dependency %q", m.Kind, name)
	}
	c, err := semver.NewConstraint(raw)
	if err != nil {
		return nil, nil
	}
	return c, nil
}
