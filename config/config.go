// Package config handles lumen.toml interpreter configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/chazu/lumen/vm"
	"github.com/tliron/commonlog"
)

// FileName is the name of the configuration file looked up by Load and
// FindAndLoad.
const FileName = "lumen.toml"

// minMaxStack is the smallest accepted limits.max-stack.
const minMaxStack = 256

var log = commonlog.GetLogger("lumen.config")

// Config represents a lumen.toml file.
type Config struct {
	GC     GC     `toml:"gc"`
	Limits Limits `toml:"limits"`
	Log    Log    `toml:"log"`

	// Path is the file the configuration was read from (set at load time).
	// It is empty for the defaults.
	Path string `toml:"-"`
}

// GC configures collector pacing.
type GC struct {
	Pause   int `toml:"pause"`
	StepMul int `toml:"step-mul"`
}

// Limits bounds interpreter resources.
type Limits struct {
	MaxStack    int `toml:"max-stack"`
	MaxCCalls   int `toml:"max-c-calls"`
	MemoryLimit int `toml:"memory-limit"`
}

// Log configures diagnostics.
type Log struct {
	Verbosity int `toml:"verbosity"`
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Default returns the configuration used when no lumen.toml exists.
func Default() *Config {
	return &Config{
		GC: GC{
			Pause:   vm.DefaultGCPause,
			StepMul: vm.DefaultGCStepMul,
		},
		Limits: Limits{
			MaxStack:  vm.DefaultMaxStack,
			MaxCCalls: vm.DefaultMaxCCalls,
		},
	}
}

// Load parses the lumen.toml file in dir. Keys that are absent keep their
// default values; unknown keys are an error.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	log.Debug("configuration loaded", "path", c.Path)
	return c, nil
}

// Parse decodes configuration text over the defaults and validates it.
func Parse(text string) (*Config, error) {
	c := Default()
	md, err := toml.Decode(text, c)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a lumen.toml file, then loads
// and returns it. Returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.GC.Pause <= 0:
		return fmt.Errorf("%w: gc.pause must be positive, got %d", ErrInvalid, c.GC.Pause)
	case c.GC.StepMul <= 0:
		return fmt.Errorf("%w: gc.step-mul must be positive, got %d", ErrInvalid, c.GC.StepMul)
	case c.Limits.MaxStack < minMaxStack:
		return fmt.Errorf("%w: limits.max-stack must be at least %d, got %d",
			ErrInvalid, minMaxStack, c.Limits.MaxStack)
	case c.Limits.MaxCCalls <= 0:
		return fmt.Errorf("%w: limits.max-c-calls must be positive, got %d", ErrInvalid, c.Limits.MaxCCalls)
	case c.Limits.MemoryLimit < 0:
		return fmt.Errorf("%w: limits.memory-limit must not be negative", ErrInvalid)
	case c.Log.Verbosity < -4 || c.Log.Verbosity > 2:
		return fmt.Errorf("%w: log.verbosity must be between -4 and 2, got %d", ErrInvalid, c.Log.Verbosity)
	}
	return nil
}

// Options converts the configuration to state options.
func (c *Config) Options() []vm.Option {
	opts := []vm.Option{
		vm.WithGCPause(c.GC.Pause),
		vm.WithGCStepMul(c.GC.StepMul),
		vm.WithMaxStack(c.Limits.MaxStack),
		vm.WithMaxCCalls(c.Limits.MaxCCalls),
	}
	if c.Limits.MemoryLimit > 0 {
		opts = append(opts, vm.WithMemoryLimit(c.Limits.MemoryLimit))
	}
	return opts
}
