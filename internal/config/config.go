// Package config loads tuning parameters for a probe run.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the measurement-resolution/speed tradeoffs. All sizes are
// MiB so the file stays human-editable.
type Config struct {
	StepMiB     int64  `yaml:"step_mib"`
	BlockMiB    int64  `yaml:"block_mib"`
	TransferMiB int64  `yaml:"transfer_mib"`
	LogPath     string `yaml:"log_path"`
}

func Default() Config {
	return Config{
		StepMiB:     16,
		BlockMiB:    128,
		TransferMiB: 256,
		LogPath:     "vramprobe.json",
	}
}

// Load reads path over the defaults. Zero values in the file keep their
// defaults so a partial config is fine.
func Load(path string) (Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	var file Config
	if err := yaml.Unmarshal(b, &file); err != nil {
		return c, fmt.Errorf("parsing %s: %w", path, err)
	}
	if file.StepMiB > 0 {
		c.StepMiB = file.StepMiB
	}
	if file.BlockMiB > 0 {
		c.BlockMiB = file.BlockMiB
	}
	if file.TransferMiB > 0 {
		c.TransferMiB = file.TransferMiB
	}
	if file.LogPath != "" {
		c.LogPath = file.LogPath
	}
	return c, nil
}

func (c Config) StepBytes() int64     { return c.StepMiB << 20 }
func (c Config) BlockBytes() int64    { return c.BlockMiB << 20 }
func (c Config) TransferBytes() int64 { return c.TransferMiB << 20 }
