package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type options struct {
	aliases map[string][]string
}

type Option func(o *options)

// WithEnvAlias binds key to additional environment variable names, e.g. a bare
// DAILY_BONUS_XP for quiz.dailybonusxp.
func WithEnvAlias(key string, envs ...string) Option {
	return func(o *options) {
		o.aliases[key] = append(o.aliases[key], envs...)
	}
}

// Load config into the config struct, config must be a pointer to the config struct.
// The struct values act as defaults, then the file (optional when empty), then environment.
func Load(file string, config any, opts ...Option) error {
	o := options{aliases: make(map[string][]string)}
	for _, opt := range opts {
		opt(&o)
	}

	v := viper.New()
	m := make(map[string]any)

	if err := mapstructure.Decode(config, &m); err != nil {
		return fmt.Errorf("mapstructure: %v", err)
	}

	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("merge config map: %v", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range o.aliases {
		// The canonical name stays first so it wins over the alias.
		names := append([]string{strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, envs...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind env %s: %v", key, err)
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config from file %s: %v", file, err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}
