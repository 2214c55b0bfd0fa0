package main

import (
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
)

// Config holds every tunable of a bode run. CLI arguments always win; a
// -config YAML file only supplies values the command line left at its
// zero value, the same layering golaborate's cmd/multiserver applies
// between its defaults and multiserver.yml.
type Config struct {
	Host        string `yaml:"Host"`
	Driver      string `yaml:"Driver"`
	Target      string `yaml:"Target"`
	Baud        int    `yaml:"Baud"`
	UDP         bool   `yaml:"UDP"`
	DiagAddr    string `yaml:"DiagAddr"`
}

func defaultConfig() Config {
	return Config{
		Host: "0.0.0.0",
	}
}

// loadConfig layers defaults, then an optional YAML file at path (missing
// file is not an error — a deployment with no file relies on CLI args
// alone), into a Config.
func loadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "yaml"), nil); err != nil {
		return Config{}, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !strings.Contains(err.Error(), "no such") {
				return Config{}, err
			}
		}
	}
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, err
	}
	return c, nil
}
