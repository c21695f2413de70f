// Package settings loads application-wide settings: install tool location,
// mod lookup credentials and download tuning. Values come from
// settings.toml in the config directory, overridden by PACKSYNC_* variables.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const envPrefix = "PACKSYNC"

type Settings struct {
	// InstallTool is the executable that installs the game runtime.
	InstallTool  string `mapstructure:"install_tool"`
	JavaPath     string `mapstructure:"java_path"`
	ModLookupURL string `mapstructure:"mod_lookup_url" default:"https://api.curseforge.com/v1"`
	ModLookupKey string `mapstructure:"mod_lookup_key"`
	Concurrency  int    `mapstructure:"concurrency" default:"6"`
	// ScratchDir holds downloaded archives during a run; empty means the
	// system temp directory.
	ScratchDir string `mapstructure:"scratch_dir"`
}

// Dir returns the pack-sync config directory, using XDG_CONFIG_HOME with a
// fallback to ~/.config.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := homedir.Dir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "pack-sync")
}

// Path is the settings file Load reads by default.
func Path() string {
	return filepath.Join(Dir(), "settings.toml")
}

// Load reads settings from path. A missing file is not an error; defaults
// and environment variables still apply.
func Load(path string) (*Settings, error) {
	v := viper.New()
	bindDefaults(v, Settings{})
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading settings %s: %w", path, err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	for _, p := range []*string{&s.InstallTool, &s.JavaPath, &s.ScratchDir} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return nil, fmt.Errorf("expanding %q: %w", *p, err)
		}
		*p = expanded
	}
	return &s, nil
}

// bindDefaults registers every mapstructure key so AutomaticEnv can see it,
// using the default tag as the value.
func bindDefaults(v *viper.Viper, iface any) {
	t := reflect.TypeOf(iface)
	for i := range t.NumField() {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		v.SetDefault(key, field.Tag.Get("default"))
	}
}
