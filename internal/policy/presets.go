// Package policy decides whether a mutation request may run. Built-in
// deny-lists are always enforced; operator CEL rules from a preset or policy
// file can add denials on top.
package policy

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/winguard/winguard/internal/models"
)

//go:embed presets/*.yaml
var presetFS embed.FS

var (
	presetMu    sync.Mutex
	presetCache = map[string]*models.PolicyConfig{}
)

// presetFiles maps preset names to embedded file paths
var presetFiles = map[string]string{
	"baseline": "presets/baseline.yaml",
	"strict":   "presets/strict.yaml",
}

// GetPreset returns a copy of a policy preset by name, or nil if not found
func GetPreset(name string) *models.PolicyConfig {
	presetMu.Lock()
	defer presetMu.Unlock()

	if cached, ok := presetCache[name]; ok {
		return clonePolicy(cached)
	}

	path, ok := presetFiles[name]
	if !ok {
		return nil
	}
	data, err := presetFS.ReadFile(path)
	if err != nil {
		return nil
	}
	cfg, err := parsePolicy(data)
	if err != nil {
		return nil
	}

	presetCache[name] = cfg
	return clonePolicy(cfg)
}

// ListPresetNames returns preset names, sorted
func ListPresetNames() []string {
	names := make([]string, 0, len(presetFiles))
	for name := range presetFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MustGetPreset returns a preset or panics (for tests)
func MustGetPreset(name string) *models.PolicyConfig {
	p := GetPreset(name)
	if p == nil {
		panic(fmt.Sprintf("preset %q not found", name))
	}
	return p
}

// LoadFile reads a policy YAML file. Unknown keys are rejected.
func LoadFile(path string) (*models.PolicyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	cfg, err := parsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Resolve combines a preset and an optional policy file. File rules run after
// the preset's and file extras are added to the preset's. Empty preset and
// path yield nil (built-ins only).
func Resolve(preset, path string) (*models.PolicyConfig, error) {
	var cfg *models.PolicyConfig
	if preset != "" {
		cfg = GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown policy preset %q (available: %v)", preset, ListPresetNames())
		}
	}
	if path == "" {
		return cfg, nil
	}
	file, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return file, nil
	}

	merged := clonePolicy(cfg)
	if file.Name != "" {
		merged.Name = cfg.Name + "+" + file.Name
	}
	if file.Mode != "" {
		merged.Mode = file.Mode
	}
	merged.Rules = append(merged.Rules, file.Rules...)
	merged.Extra = mergeLists(merged.Extra, file.Extra)
	return merged, nil
}

func parsePolicy(data []byte) (*models.PolicyConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg models.PolicyConfig
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	return &cfg, nil
}

func clonePolicy(c *models.PolicyConfig) *models.PolicyConfig {
	cp := *c
	cp.Rules = append([]models.PolicyRule(nil), c.Rules...)
	cp.Extra = models.DenyLists{
		DangerousFragments:   append([]string(nil), c.Extra.DangerousFragments...),
		CriticalRegistryKeys: append([]string(nil), c.Extra.CriticalRegistryKeys...),
		CriticalServices:     append([]string(nil), c.Extra.CriticalServices...),
		CriticalPaths:        append([]string(nil), c.Extra.CriticalPaths...),
	}
	return &cp
}
