// Package config loads the workspace configuration and refactoring presets.
//
// Configuration lives in .typemill/config.json (the legacy .codebuddy
// directory is honored), with a YAML variant accepted alongside. Environment
// variables using the doubled-underscore syntax (MILL__CACHE__ENABLED=true)
// override individual paths.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigDirs are probed in order under the workspace root.
var ConfigDirs = []string{".typemill", ".codebuddy"}

// EnvPrefixes are accepted for doubled-underscore overrides.
var EnvPrefixes = []string{"MILL", "CB"}

// ServerConfig describes one language server subprocess.
type ServerConfig struct {
	Extensions      []string `json:"extensions" yaml:"extensions"`
	Command         []string `json:"command" yaml:"command"`
	RestartInterval int      `json:"restartInterval,omitempty" yaml:"restartInterval,omitempty"` // minutes, 0 disables
}

// ID derives the stable registry key for the server block.
func (s ServerConfig) ID() string {
	if len(s.Command) > 0 {
		return filepath.Base(s.Command[0]) + ":" + strings.Join(s.Extensions, ",")
	}
	return strings.Join(s.Extensions, ",")
}

// CacheConfig gates the on-disk parse/symbol cache.
type CacheConfig struct {
	Enabled      bool  `json:"enabled" yaml:"enabled"`
	TTLSeconds   int64 `json:"ttl_seconds" yaml:"ttl_seconds"`
	MaxSizeBytes int64 `json:"max_size_bytes" yaml:"max_size_bytes"`
}

// Config is the root configuration document.
type Config struct {
	Servers        []ServerConfig `json:"servers" yaml:"servers"`
	Cache          CacheConfig    `json:"cache" yaml:"cache"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// RequestTimeout returns the per-request LSP deadline.
func (c *Config) RequestTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ServerFor returns the first server block owning ext (without the dot), or
// nil when the extension is not configured.
func (c *Config) ServerFor(ext string) *ServerConfig {
	ext = strings.TrimPrefix(ext, ".")
	for i := range c.Servers {
		for _, e := range c.Servers[i].Extensions {
			if strings.TrimPrefix(e, ".") == ext {
				return &c.Servers[i]
			}
		}
	}
	return nil
}

// ServersFor returns every server block owning ext, in declaration order.
// More than one entry is the rare explicitly-configured multi-server case.
func (c *Config) ServersFor(ext string) []*ServerConfig {
	ext = strings.TrimPrefix(ext, ".")
	var out []*ServerConfig
	for i := range c.Servers {
		for _, e := range c.Servers[i].Extensions {
			if strings.TrimPrefix(e, ".") == ext {
				out = append(out, &c.Servers[i])
				break
			}
		}
	}
	return out
}

// Validate rejects configurations the registry cannot run.
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for _, s := range c.Servers {
		if len(s.Extensions) == 0 {
			return fmt.Errorf("server %q has no extensions", s.ID())
		}
		if len(s.Command) == 0 || s.Command[0] == "" {
			return fmt.Errorf("server %q has no command", s.ID())
		}
		if seen[s.ID()] {
			return fmt.Errorf("duplicate server id %q", s.ID())
		}
		seen[s.ID()] = true
	}
	if c.Cache.TTLSeconds < 0 || c.Cache.MaxSizeBytes < 0 {
		return fmt.Errorf("cache limits must be non-negative")
	}
	return nil
}

// Load reads the configuration for the workspace rooted at root, applying
// environment overrides. A missing file yields the zero config, not an error;
// callers decide whether an empty server list is acceptable.
func Load(root string) (*Config, error) {
	var raw map[string]any
	path := findConfigFile(root)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			if err := yaml.Unmarshal(data, &raw); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else {
			if err := json.Unmarshal(data, &raw); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	applyEnvOverrides(raw, os.Environ())

	// Normalize through JSON so yaml's map[string]any and override scalars
	// land in the same struct fields.
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := json.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("config shape: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile(root string) string {
	for _, dir := range ConfigDirs {
		for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
			p := filepath.Join(root, dir, name)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}

// applyEnvOverrides merges MILL__A__B=v style variables into raw, splitting
// on doubled underscores and lowercasing each segment.
func applyEnvOverrides(raw map[string]any, environ []string) {
	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key, val := kv[:eq], kv[eq+1:]
		for _, prefix := range EnvPrefixes {
			if !strings.HasPrefix(key, prefix+"__") {
				continue
			}
			segments := strings.Split(key[len(prefix)+2:], "__")
			setPath(raw, segments, parseScalar(val))
			break
		}
	}
}

func setPath(raw map[string]any, segments []string, val any) {
	cur := raw
	for i, seg := range segments {
		name := strings.ToLower(seg)
		if i == len(segments)-1 {
			cur[name] = val
			return
		}
		next, ok := cur[name].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[name] = next
		}
		cur = next
	}
}

func parseScalar(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
