package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SourceType identifies where a configuration value came from.
type SourceType string

const (
	SourceYAML SourceType = "yaml"
	SourceCLI  SourceType = "cli"
)

// Source provides a nested map of configuration values.
type Source interface {
	Load() (map[string]any, error)
	Type() SourceType
}

type yamlProvider struct {
	path string
}

// NewYAMLProvider reads configuration from a YAML file. A missing file
// yields no values.
func NewYAMLProvider(path string) Source {
	return &yamlProvider{path: path}
}

func (y *yamlProvider) Load() (map[string]any, error) {
	if y.path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(y.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", y.path, err)
	}
	var cfg map[string]any
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", y.path, err)
	}
	if cfg == nil {
		return map[string]any{}, nil
	}
	return filterNilValues(cfg), nil
}

func (y *yamlProvider) Type() SourceType {
	return SourceYAML
}

type cliProvider struct {
	flags map[string]any
}

// NewCLIProvider wraps flag values keyed by dotted config path,
// e.g. "database.host".
func NewCLIProvider(flags map[string]any) Source {
	return &cliProvider{flags: flags}
}

func (c *cliProvider) Load() (map[string]any, error) {
	result := make(map[string]any)
	for path, value := range c.flags {
		if err := setNested(result, path, value); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (c *cliProvider) Type() SourceType {
	return SourceCLI
}

func setNested(m map[string]any, path string, value any) error {
	parts := strings.Split(path, ".")
	current := m
	for i, part := range parts {
		if part == "" {
			return fmt.Errorf("invalid config path %q", path)
		}
		if i == len(parts)-1 {
			current[part] = value
			return nil
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	return nil
}

func filterNilValues(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			result[k] = filterNilValues(nested)
			continue
		}
		result[k] = v
	}
	return result
}
