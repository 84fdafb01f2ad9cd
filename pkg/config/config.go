// Package config holds the kernel's tunable parameters, loadable from
// a YAML file with sensible teaching defaults.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Validation errors.
var (
	ErrBadCPUCount  = errors.New("config: ncpu must be at least 1")
	ErrBadProcCount = errors.New("config: nproc must be at least 1")
	ErrBadMemory    = errors.New("config: physPages must exceed kernelPages")
	ErrBadInterval  = errors.New("config: boostInterval must be positive")
)

// Config is the full set of kernel parameters.
type Config struct {
	// NCPU is the number of scheduler CPUs.
	NCPU int `yaml:"ncpu"`
	// NProc is the process table capacity.
	NProc int `yaml:"nproc"`
	// PhysPages is the number of physical page frames.
	PhysPages int `yaml:"physPages"`
	// KernelPages is the number of frames reserved for the kernel
	// image at the bottom of physical memory.
	KernelPages int `yaml:"kernelPages"`
	// BoostInterval is the tick count between priority boosts.
	BoostInterval int `yaml:"boostInterval"`
	// MonopolySecret is the shared secret SetMonopoly requires.
	MonopolySecret int64 `yaml:"monopolySecret"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`
}

// Default returns the teaching-kernel defaults.
func Default() *Config {
	return &Config{
		NCPU:           2,
		NProc:          64,
		PhysPages:      1024,
		KernelPages:    64,
		BoostInterval:  100,
		MonopolySecret: 2021057301,
		LogLevel:       "info",
	}
}

// Load reads a YAML config file, applying defaults for absent fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the parameters for internal consistency.
func (c *Config) Validate() error {
	if c.NCPU < 1 {
		return ErrBadCPUCount
	}
	if c.NProc < 1 {
		return ErrBadProcCount
	}
	if c.PhysPages <= c.KernelPages || c.KernelPages < 0 {
		return ErrBadMemory
	}
	if c.BoostInterval <= 0 {
		return ErrBadInterval
	}
	return nil
}
