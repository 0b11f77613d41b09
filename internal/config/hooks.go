package config

import (
	"bytes"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sprite-ai/refgate/internal/apperr"
)

// HookSpec is one entry of the hook configuration: a check name and its
// still-encoded settings.
type HookSpec struct {
	Name     string
	Settings yaml.Node
}

// Decode decodes the settings into v. Missing or null settings leave v
// untouched.
func (h HookSpec) Decode(v any) error {
	if h.Settings.Kind == 0 || (h.Settings.Kind == yaml.ScalarNode && h.Settings.Tag == "!!null") {
		return nil
	}
	if err := h.Settings.Decode(v); err != nil {
		return apperr.Wrapf(err, apperr.CodeConfiguration, "%s: invalid settings", h.Name)
	}
	return nil
}

// LoadHookFile reads a hook configuration file. See ParseHooks.
func LoadHookFile(path string) ([]HookSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConfiguration, "loading hook configuration")
	}
	return ParseHooks(data)
}

// ParseHooks decodes a JSON or YAML mapping of check name to settings. The
// mapping order is the execution order, so the document is walked as a node
// tree instead of being decoded into a Go map.
func ParseHooks(data []byte) ([]HookSpec, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConfiguration, "parsing hook configuration")
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, apperr.Configuration("hook configuration must be a mapping of check name to settings (line %d)", root.Line)
	}

	specs := make([]HookSpec, 0, len(root.Content)/2)
	seen := map[string]bool{}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if key.Kind != yaml.ScalarNode || key.Value == "" {
			return nil, apperr.Configuration("hook configuration line %d: check name must be a string", key.Line)
		}
		if seen[key.Value] {
			return nil, apperr.Configuration("hook configuration line %d: check '%s' listed twice", key.Line, key.Value)
		}
		seen[key.Value] = true
		specs = append(specs, HookSpec{Name: key.Value, Settings: *value})
	}
	return specs, nil
}
