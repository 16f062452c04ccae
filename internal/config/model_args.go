package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ivanfioravanti/SiLLM/internal/quant"
)

// MoEArgs configures the mixture-of-experts variant.
type MoEArgs struct {
	NumExperts       int `json:"num_experts" yaml:"num_experts" toml:"num_experts"`
	NumExpertsPerTok int `json:"num_experts_per_tok" yaml:"num_experts_per_tok" toml:"num_experts_per_tok"`
}

// ModelArgs mirrors the model's config.json. A non-nil Quantization
// means the checkpoint stores packed weights and the module tree must
// be quantized before loading them.
type ModelArgs struct {
	ModelType     string        `json:"model_type" yaml:"model_type" toml:"model_type"`
	Dim           int           `json:"dim" yaml:"dim" toml:"dim"`
	NumLayers     int           `json:"n_layers" yaml:"n_layers" toml:"n_layers"`
	NumHeads      int           `json:"n_heads" yaml:"n_heads" toml:"n_heads"`
	NumKVHeads    int           `json:"n_kv_heads" yaml:"n_kv_heads" toml:"n_kv_heads"`
	HeadDim       int           `json:"head_dim" yaml:"head_dim" toml:"head_dim"`
	HiddenDim     int           `json:"hidden_dim" yaml:"hidden_dim" toml:"hidden_dim"`
	VocabSize     int           `json:"vocab_size" yaml:"vocab_size" toml:"vocab_size"`
	NormEps       float64       `json:"norm_eps" yaml:"norm_eps" toml:"norm_eps"`
	RopeTheta     float64       `json:"rope_theta" yaml:"rope_theta" toml:"rope_theta"`
	SlidingWindow int           `json:"sliding_window" yaml:"sliding_window" toml:"sliding_window"`
	MoE           *MoEArgs      `json:"moe,omitempty" yaml:"moe,omitempty" toml:"moe,omitempty"`
	Quantization  *quant.Config `json:"quantization,omitempty" yaml:"quantization,omitempty" toml:"quantization,omitempty"`
}

// LoadModelArgs reads and validates a config.json, filling derivable
// fields that checkpoints commonly omit.
func LoadModelArgs(path string) (ModelArgs, error) {
	var args ModelArgs
	b, err := os.ReadFile(path)
	if err != nil {
		return args, fmt.Errorf("read model args: %w", err)
	}
	if err := json.Unmarshal(b, &args); err != nil {
		return args, fmt.Errorf("parse model args: %w", err)
	}
	args.ApplyDefaults()
	if err := args.Validate(); err != nil {
		return args, err
	}
	return args, nil
}

// SaveModelArgs writes args as config.json alongside converted weights.
func SaveModelArgs(path string, args ModelArgs) error {
	b, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return fmt.Errorf("encode model args: %w", err)
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

func (a *ModelArgs) ApplyDefaults() {
	if a.NumKVHeads == 0 {
		a.NumKVHeads = a.NumHeads
	}
	if a.HeadDim == 0 && a.NumHeads > 0 {
		a.HeadDim = a.Dim / a.NumHeads
	}
	if a.NormEps == 0 {
		a.NormEps = 1e-5
	}
	if a.RopeTheta == 0 {
		a.RopeTheta = 10000.0
	}
}

func (a *ModelArgs) Validate() error {
	if a.ModelType == "" {
		return fmt.Errorf("invalid model_type: empty")
	}
	if a.Dim <= 0 {
		return fmt.Errorf("invalid dim: %d (must be positive)", a.Dim)
	}
	if a.NumLayers <= 0 {
		return fmt.Errorf("invalid n_layers: %d (must be positive)", a.NumLayers)
	}
	if a.NumHeads <= 0 {
		return fmt.Errorf("invalid n_heads: %d (must be positive)", a.NumHeads)
	}
	if a.NumKVHeads > a.NumHeads {
		return fmt.Errorf("invalid n_kv_heads: %d (must be <= n_heads: %d)", a.NumKVHeads, a.NumHeads)
	}
	if a.HiddenDim <= 0 {
		return fmt.Errorf("invalid hidden_dim: %d (must be positive)", a.HiddenDim)
	}
	if a.VocabSize <= 0 {
		return fmt.Errorf("invalid vocab_size: %d (must be positive)", a.VocabSize)
	}
	if a.NormEps <= 0 {
		return fmt.Errorf("invalid norm_eps: %f (must be positive)", a.NormEps)
	}
	if a.MoE != nil {
		if a.MoE.NumExperts <= 0 {
			return fmt.Errorf("invalid num_experts: %d (must be positive)", a.MoE.NumExperts)
		}
		if a.MoE.NumExpertsPerTok <= 0 || a.MoE.NumExpertsPerTok > a.MoE.NumExperts {
			return fmt.Errorf("invalid num_experts_per_tok: %d (must be in 1..%d)", a.MoE.NumExpertsPerTok, a.MoE.NumExperts)
		}
	}
	if a.Quantization != nil {
		if err := a.Quantization.Validate(); err != nil {
			return err
		}
	}
	return nil
}
