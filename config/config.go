// Package config loads deface settings from YAML, falling back to defaults
// for anything the file leaves out.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/carbocation/deface"
	"github.com/carbocation/deface/flirt"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no -config flag is given. A missing file is not an
// error.
const DefaultPath = "~/.deface.yaml"

type Config struct {
	Assets       AssetsConfig       `yaml:"assets"`
	Registration RegistrationConfig `yaml:"registration"`
	Workspace    WorkspaceConfig    `yaml:"workspace"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// AssetsConfig locates the template and face mask. Template and Facemask
// override the files found in Dir.
type AssetsConfig struct {
	Dir      string `yaml:"dir"`
	Template string `yaml:"template"`
	Facemask string `yaml:"facemask"`
}

type RegistrationConfig struct {
	// Binary overrides $FSLDIR/bin/flirt.
	Binary     string        `yaml:"binary"`
	Cost       string        `yaml:"cost"`
	Interp     string        `yaml:"interp"`
	OutputType string        `yaml:"output_type"`
	Timeout    time.Duration `yaml:"timeout"`
}

type WorkspaceConfig struct {
	TempDir string `yaml:"temp_dir"`
	Cleanup bool   `yaml:"cleanup"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Registration: RegistrationConfig{
			Cost:       flirt.DefaultCost,
			OutputType: flirt.DefaultOutputType,
		},
		Workspace: WorkspaceConfig{
			Cleanup: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults. An empty path means DefaultPath. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath
	}
	path, err := deface.ExpandHome(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	} else if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
	}

	return cfg, nil
}

// ResolveAssets applies the Assets section on top of the bundled search path.
func (c *Config) ResolveAssets() deface.Assets {
	a := deface.FindAssets(c.Assets.Dir)
	if c.Assets.Template != "" {
		a.Template = c.Assets.Template
	}
	if c.Assets.Facemask != "" {
		a.Facemask = c.Assets.Facemask
	}
	return a
}

// Runner builds a flirt runner for the installation at fslDir.
func (c *Config) Runner(fslDir string) *flirt.Runner {
	r := flirt.New(fslDir)
	r.Binary = c.Registration.Binary
	if c.Registration.Cost != "" {
		r.Cost = c.Registration.Cost
	}
	r.Interp = c.Registration.Interp
	if c.Registration.OutputType != "" {
		r.OutputType = c.Registration.OutputType
	}
	r.Timeout = c.Registration.Timeout
	return r
}
