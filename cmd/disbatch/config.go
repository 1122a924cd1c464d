package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mossline/disbatch/resource"
)

// config is the optional YAML configuration file. Resource kinds declared
// here are registered alongside the built-in ones.
type config struct {
	Home    string `yaml:"home"`
	Backend string `yaml:"backend"`
	Workers int    `yaml:"workers"`

	Resources []resourceConfig `yaml:"resources"`
}

type resourceConfig struct {
	Name           string `yaml:"name"`
	Linux          string `yaml:"linux"`
	Windows        string `yaml:"windows"`
	Darwin         string `yaml:"darwin"`
	Default        string `yaml:"default"`
	Unpack         bool   `yaml:"unpack"`
	CheckUpdate    bool   `yaml:"check_update"`
	WithPermission bool   `yaml:"with_permission"`
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "disbatch", "config.yaml")
}

// loadConfig reads the config at path, or the default per-user location
// when path is empty. A missing file yields the zero config.
func loadConfig(path string) (*config, error) {
	explicit := path != ""
	if path == "" {
		path = defaultConfigPath()
	}
	var conf config
	if path == "" {
		return &conf, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return &conf, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return nil, err
	}
	if conf.Backend == "" {
		conf.Backend = "native"
	}
	return &conf, nil
}

func (c *config) registerResources() {
	for _, rc := range c.Resources {
		resource.Register(&resource.Descriptor{
			Name:           rc.Name,
			Linux:          rc.Linux,
			Windows:        rc.Windows,
			Darwin:         rc.Darwin,
			Default:        rc.Default,
			Unpack:         rc.Unpack,
			CheckUpdate:    rc.CheckUpdate,
			WithPermission: rc.WithPermission,
		})
	}
}
