package config

import (
	"context"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Loader assembles a Config from defaults, sources and the environment.
//
// Precedence, lowest first: defaults, file sources, environment, CLI flags.
type Loader struct {
	koanf     *koanf.Koanf
	validator *validator.Validate
	environ   func() []string
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithEnviron replaces os.Environ as the environment source.
func WithEnviron(fn func() []string) LoaderOption {
	return func(l *Loader) {
		l.environ = fn
	}
}

// NewLoader creates a configuration loader with validation support.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		koanf:     koanf.New("."),
		validator: validator.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load is shorthand for NewLoader().Load.
func Load(ctx context.Context, sources ...Source) (*Config, error) {
	return NewLoader().Load(ctx, sources...)
}

// Load resolves the configuration from the provided sources.
func (l *Loader) Load(_ context.Context, sources ...Source) (*Config, error) {
	l.koanf = koanf.New(".")
	if err := l.koanf.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	var flags []Source
	for _, source := range sources {
		if source == nil {
			continue
		}
		if source.Type() == SourceCLI {
			flags = append(flags, source)
			continue
		}
		if err := l.loadSource(source); err != nil {
			return nil, err
		}
	}
	if err := l.loadEnvironment(); err != nil {
		return nil, err
	}
	for _, source := range flags {
		if err := l.loadSource(source); err != nil {
			return nil, err
		}
	}
	return l.unmarshalAndValidate()
}

func (l *Loader) loadSource(source Source) error {
	data, err := source.Load()
	if err != nil {
		return fmt.Errorf("failed to load from source %s: %w", source.Type(), err)
	}
	for key, value := range flattenMap("", data) {
		if err := l.koanf.Set(key, value); err != nil {
			return fmt.Errorf("failed to set key %s from source %s: %w", key, source.Type(), err)
		}
	}
	return nil
}

// loadEnvironment only honors variables named by `env` struct tags.
func (l *Loader) loadEnvironment() error {
	envToPath := envPaths()
	opt := env.Opt{
		TransformFunc: func(key string, value string) (string, any) {
			if path, ok := envToPath[key]; ok {
				return path, value
			}
			return "", nil
		},
	}
	if l.environ != nil {
		opt.EnvironFunc = l.environ
	}
	if err := l.koanf.Load(env.Provider(".", opt), nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	return nil
}

func (l *Loader) unmarshalAndValidate() (*Config, error) {
	var cfg Config
	if err := l.koanf.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				sensitiveStringDecodeHook,
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := l.validator.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func sensitiveStringDecodeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(SensitiveString("")) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return SensitiveString(v), nil
	case []byte:
		return SensitiveString(v), nil
	default:
		return data, nil
	}
}

func flattenMap(prefix string, m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for fk, fv := range flattenMap(key, nested) {
				result[fk] = fv
			}
			continue
		}
		result[key] = v
	}
	return result
}
