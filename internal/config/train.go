package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// TrainConfig holds the fine-tuning run parameters. File values overlay
// the defaults; flags overlay the file.
type TrainConfig struct {
	BatchSize         int     `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	LearningRate      float64 `json:"learning_rate" yaml:"learning_rate" toml:"learning_rate"`
	Epochs            int     `json:"epochs" yaml:"epochs" toml:"epochs"`
	Iterations        int     `json:"iterations" yaml:"iterations" toml:"iterations"`
	ReportSteps       int     `json:"report_steps" yaml:"report_steps" toml:"report_steps"`
	EvalSteps         int     `json:"eval_steps" yaml:"eval_steps" toml:"eval_steps"`
	ValidationSamples int     `json:"validation_samples" yaml:"validation_samples" toml:"validation_samples"`
	Debug             bool    `json:"debug" yaml:"debug" toml:"debug"`
	Seed              int64   `json:"seed" yaml:"seed" toml:"seed"`

	LoraLayers    int     `json:"lora_layers" yaml:"lora_layers" toml:"lora_layers"`
	TargetModules string  `json:"target_modules" yaml:"target_modules" toml:"target_modules"`
	LoraRank      int     `json:"lora_rank" yaml:"lora_rank" toml:"lora_rank"`
	LoraAlpha     float64 `json:"lora_alpha" yaml:"lora_alpha" toml:"lora_alpha"`
	LoraDropout   float64 `json:"lora_dropout" yaml:"lora_dropout" toml:"lora_dropout"`
	LoraScale     float64 `json:"lora_scale" yaml:"lora_scale" toml:"lora_scale"`

	CheckpointDir    string `json:"checkpoint_dir" yaml:"checkpoint_dir" toml:"checkpoint_dir"`
	CheckpointFormat string `json:"checkpoint_format" yaml:"checkpoint_format" toml:"checkpoint_format"`
}

func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		BatchSize:         4,
		LearningRate:      1e-5,
		Epochs:            1,
		Iterations:        0, // one pass over the training set
		ReportSteps:       10,
		EvalSteps:         100,
		ValidationSamples: 40,

		LoraLayers:    -1,
		TargetModules: "query_value",
		LoraRank:      8,
		LoraAlpha:     16,
		LoraDropout:   0.05,
		LoraScale:     10,

		CheckpointFormat: ".safetensors",
	}
}

// LoadTrainConfig overlays a configuration file onto the defaults,
// dispatching on the file extension.
func LoadTrainConfig(path string) (TrainConfig, error) {
	cfg := DefaultTrainConfig()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, cfg.Validate()
}

func (c *TrainConfig) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("invalid batch_size: %d (must be positive)", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("invalid learning_rate: %f (must be positive)", c.LearningRate)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("invalid epochs: %d (must be positive)", c.Epochs)
	}
	if c.Iterations < 0 {
		return fmt.Errorf("invalid iterations: %d (must be non-negative)", c.Iterations)
	}
	if c.ReportSteps <= 0 {
		return fmt.Errorf("invalid report_steps: %d (must be positive)", c.ReportSteps)
	}
	if c.EvalSteps <= 0 {
		return fmt.Errorf("invalid eval_steps: %d (must be positive)", c.EvalSteps)
	}
	if c.ValidationSamples < 0 {
		return fmt.Errorf("invalid validation_samples: %d (must be non-negative)", c.ValidationSamples)
	}
	switch c.TargetModules {
	case "all_linear", "query_value":
	default:
		return fmt.Errorf("invalid target_modules: %q (must be all_linear or query_value)", c.TargetModules)
	}
	if c.LoraRank <= 0 {
		return fmt.Errorf("invalid lora_rank: %d (must be positive)", c.LoraRank)
	}
	if c.LoraDropout < 0 || c.LoraDropout >= 1 {
		return fmt.Errorf("invalid lora_dropout: %f (must be in [0, 1))", c.LoraDropout)
	}
	return nil
}
