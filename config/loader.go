package config

import (
	"context"
	"os"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/goerr/v2"
)

// Load builds the configuration from defaults, then the YAML file at path (if
// not empty), then GELATO_* environment variables.
func Load(ctx context.Context, path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, goerr.Wrap(err, "failed to load defaults")
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
		}
		var data map[string]any
		if err := yaml.Unmarshal(raw, &data); err != nil {
			return nil, goerr.Wrap(err, "failed to parse config file", goerr.V("path", path))
		}
		if err := k.Load(rawMap(data), nil); err != nil {
			return nil, goerr.Wrap(err, "failed to apply config file", goerr.V("path", path))
		}
	}

	mappings := envMappings(reflect.TypeOf(Config{}))
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: "GELATO_",
		TransformFunc: func(key, value string) (string, any) {
			// Unknown variables are dropped.
			return mappings[key], value
		},
	}), nil); err != nil {
		return nil, goerr.Wrap(err, "failed to load environment variables")
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	gelato.LoggerFromContext(ctx).Debug("configuration loaded",
		"path", path,
		"network", cfg.Network,
		"chain_id", cfg.ChainID,
		"deployments", len(cfg.Deployments),
	)
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return goerr.Wrap(err, "invalid configuration")
	}
	if _, err := c.GasPriceWei(); err != nil {
		return goerr.Wrap(err, "invalid gas_price")
	}
	if _, err := c.Salt(); err != nil {
		return err
	}
	return nil
}

// envMappings collects the env tags of t, keyed by variable name.
func envMappings(t reflect.Type) map[string]string {
	out := make(map[string]string)
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			tag := field.Tag.Get("koanf")
			if tag == "" || tag == "-" {
				continue
			}
			path := tag
			if prefix != "" {
				path = prefix + "." + tag
			}
			if name := field.Tag.Get("env"); name != "" {
				out[name] = path
			}
			if field.Type.Kind() == reflect.Struct && field.Type.PkgPath() != "time" {
				walk(field.Type, path)
			}
		}
	}
	walk(t, "")
	return out
}

// EnvVars lists the supported environment variables.
func EnvVars() []string {
	mappings := envMappings(reflect.TypeOf(Config{}))
	return sortedKeys(mappings)
}

// rawMap adapts an already parsed document to koanf.Provider.
type rawMap map[string]any

func (r rawMap) Read() (map[string]any, error) {
	return r, nil
}

func (r rawMap) ReadBytes() ([]byte, error) {
	return nil, goerr.New("ReadBytes is not supported")
}

// DeploymentKeys returns the deployment names, sorted.
func (c *Config) DeploymentKeys() []string {
	return sortedKeys(c.Deployments)
}
