package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/visiona/framesynth"
)

// DaemonConfig is the complete framesynthd configuration.
type DaemonConfig struct {
	Input   InputConfig   `yaml:"input"`
	Rate    RateConfig    `yaml:"rate"`
	Engine  EngineConfig  `yaml:"engine"`
	Skip    SkipConfig    `yaml:"skip"`
	Output  OutputConfig  `yaml:"output"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Workers int           `yaml:"workers"` // concurrent output-frame productions (default: 4)
}

// InputConfig describes the source clip.
type InputConfig struct {
	Location string `yaml:"location"`
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	FPSNum   int64  `yaml:"fps_num"`
	FPSDen   int64  `yaml:"fps_den"`
}

// RateConfig is the rational rate-change factor.
type RateConfig struct {
	Multiplier int `yaml:"multiplier"`
	Divisor    int `yaml:"divisor"`
}

// EngineConfig describes the external interpolation engine process.
type EngineConfig struct {
	Command    string `yaml:"command"`
	Model      int    `yaml:"model"`
	ModelPath  string `yaml:"model_path"`
	ModelsRoot string `yaml:"models_root"`
	GPU        int    `yaml:"gpu"`
	GPUThreads int    `yaml:"gpu_threads"`
	TTA        bool   `yaml:"tta"`
	UHD        bool   `yaml:"uhd"`
}

// SkipConfig controls the pass-through decisions.
type SkipConfig struct {
	SceneChange bool    `yaml:"scene_change"`
	Skip        bool    `yaml:"skip"`
	Threshold   float64 `yaml:"threshold"`
}

// OutputConfig describes where finished frames go.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// MQTTConfig enables periodic stats publication when a broker is set.
type MQTTConfig struct {
	Broker    string `yaml:"broker"`
	ClientID  string `yaml:"client_id"`
	Topic     string `yaml:"topic"`
	IntervalS int    `yaml:"interval_s"`
}

// LoadConfig reads and validates the daemon configuration file.
func LoadConfig(path string) (*DaemonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &DaemonConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Input.Location == "" {
		return nil, fmt.Errorf("input.location is required")
	}
	if cfg.Input.Width <= 0 || cfg.Input.Height <= 0 {
		return nil, fmt.Errorf("input.width and input.height are required")
	}
	if cfg.Output.Dir == "" {
		return nil, fmt.Errorf("output.dir is required")
	}
	if cfg.Engine.Command == "" {
		return nil, fmt.Errorf("engine.command is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MQTT.IntervalS <= 0 {
		cfg.MQTT.IntervalS = 10
	}
	return cfg, nil
}

// FilterConfig converts the daemon config into the library configuration.
func (c *DaemonConfig) FilterConfig() framesynth.Config {
	fc := framesynth.DefaultConfig()
	if c.Rate.Multiplier != 0 {
		fc.Multiplier = c.Rate.Multiplier
	}
	if c.Rate.Divisor != 0 {
		fc.Divisor = c.Rate.Divisor
	}
	fc.Model = c.Engine.Model
	fc.ModelPath = c.Engine.ModelPath
	fc.ModelsRoot = c.Engine.ModelsRoot
	fc.GPU = c.Engine.GPU
	if c.Engine.GPUThreads > 0 {
		fc.GPUThreads = c.Engine.GPUThreads
	}
	fc.TTA = c.Engine.TTA
	fc.UHD = c.Engine.UHD
	fc.SceneChange = c.Skip.SceneChange
	fc.Skip = c.Skip.Skip
	if c.Skip.Threshold != 0 {
		fc.SkipThreshold = c.Skip.Threshold
	}
	return fc
}
