// Package config loads workermux.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/guseggert/workermux/internal/files"
	"gopkg.in/yaml.v3"
)

// FileName is the config file searched for from the working directory upwards.
const FileName = "workermux.yaml"

type Config struct {
	Worker Worker `yaml:"worker"`
	Build  Build  `yaml:"build"`
	Log    Log    `yaml:"log"`
	Serve  Serve  `yaml:"serve"`

	// Path is the file the config was loaded from, or "" if defaults are in use.
	Path string `yaml:"-"`
}

type Worker struct {
	// Command is run through the host shell.
	Command string `yaml:"command"`
	// Dir is the worker's working directory, relative to the config file.
	Dir     string        `yaml:"dir"`
	Env     []string      `yaml:"env"`
	Timeout time.Duration `yaml:"timeout"`
}

type Build struct {
	Source         string `yaml:"source"`
	Output         string `yaml:"output"`
	Concurrency    int    `yaml:"concurrency"`
	Highlight      bool   `yaml:"highlight"`
	Minify         bool   `yaml:"minify"`
	MinifiedHeader string `yaml:"minified_header"`
}

type Log struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type Serve struct {
	ListenAddr string `yaml:"listen_addr"`
}

func Default() *Config {
	return &Config{
		Worker: Worker{
			Command: "htmlworker",
			Dir:     ".",
			Timeout: 30 * time.Second,
		},
		Build: Build{
			Source:      "src",
			Output:      "dist",
			Concurrency: runtime.NumCPU(),
			Highlight:   true,
			Minify:      true,
		},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Serve: Serve{
			ListenAddr: "127.0.0.1:8181",
		},
	}
}

// Load reads the config file at path. If path is empty, FileName is searched for from dir upwards,
// and the defaults are used if there is none. Relative paths in the config are resolved against
// the directory containing the config file.
func Load(path, dir string) (*Config, error) {
	if path == "" {
		found, err := files.FindUp(FileName, dir)
		if err != nil {
			return nil, fmt.Errorf("searching for %s: %w", FileName, err)
		}
		if found == "" {
			cfg := Default()
			cfg.resolve(dir)
			return cfg, nil
		}
		path = found
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	err = yaml.Unmarshal(b, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Path = path
	cfg.resolve(filepath.Dir(path))

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Worker.Command == "" {
		return errors.New("worker.command is empty")
	}
	if c.Worker.Timeout < 0 {
		return fmt.Errorf("worker.timeout must not be negative, got %s", c.Worker.Timeout)
	}
	if c.Build.Concurrency < 1 {
		return fmt.Errorf("build.concurrency must be at least 1, got %d", c.Build.Concurrency)
	}
	return nil
}

func (c *Config) resolve(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Worker.Dir = abs(c.Worker.Dir)
	c.Build.Source = abs(c.Build.Source)
	c.Build.Output = abs(c.Build.Output)
	c.Log.File = abs(c.Log.File)
}
