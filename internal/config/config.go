package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "CONFIG_PATH"

// Load config from file into the config struct, config must be a pointer to the config struct.
// Values already set in config act as defaults; the file overrides them and env vars override the file,
// e.g. BACKEND_URL overrides backend.url.
func Load(file string, config any) error {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := make(map[string]any)
	if err := flatten("", config, defaults); err != nil {
		return fmt.Errorf("mapstructure: %v", err)
	}

	// Every leaf is known to viper, so env vars apply even when the file omits the key.
	for k, val := range defaults {
		v.SetDefault(k, val)
		if err := v.BindEnv(k); err != nil {
			return fmt.Errorf("bind env %s: %v", k, err)
		}
	}

	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config from file %s: %v", file, err)
	}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}

// flatten decodes in into dotted leaf keys, e.g. backend.url.
func flatten(prefix string, in any, out map[string]any) error {
	m := make(map[string]any)
	if err := mapstructure.Decode(in, &m); err != nil {
		return err
	}

	for k, val := range m {
		key := prefix + strings.ToLower(k)
		if reflect.Indirect(reflect.ValueOf(val)).Kind() == reflect.Struct {
			if err := flatten(key+".", val, out); err != nil {
				return err
			}
			continue
		}
		out[key] = val
	}

	return nil
}

// LoadFromEnv loads the file named by CONFIG_PATH.
func LoadFromEnv(config any) error {
	p := os.Getenv(EnvPath)
	if p == "" {
		return fmt.Errorf("%s not set", EnvPath)
	}

	return Load(p, config)
}
