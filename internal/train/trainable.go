// Package train specializes an LLM for fine-tuning: adapter injection
// and merge-back, the training loop with periodic evaluation, and
// adapter checkpointing.
package train

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ivanfioravanti/SiLLM/internal/llm"
	"github.com/ivanfioravanti/SiLLM/internal/logger"
	"github.com/ivanfioravanti/SiLLM/internal/lora"
	"github.com/ivanfioravanti/SiLLM/internal/metrics"
	"github.com/ivanfioravanti/SiLLM/internal/nn"
	"github.com/ivanfioravanti/SiLLM/internal/weights"
)

// ErrNoActiveLoRA rejects adapter saves while the model is unadapted.
var ErrNoActiveLoRA = errors.New("no active LoRA adapters")

// queryValuePattern matches the attention query and value projections.
var queryValuePattern = regexp.MustCompile(`\.attention\.(wq|wv)$`)

type loraState struct {
	cfg      lora.Config
	selector string
	layers   int
	adapters int
}

// TrainableLLM owns the wrapped LLM; conversion takes ownership rather
// than copying, so the original handle must not be used concurrently.
type TrainableLLM struct {
	*llm.LLM
	lora    *loraState
	ckptExt string
}

func FromLLM(l *llm.LLM) *TrainableLLM {
	return &TrainableLLM{LLM: l, ckptExt: ".safetensors"}
}

// SetCheckpointFormat selects the checkpoint serialization format by
// file extension.
func (t *TrainableLLM) SetCheckpointFormat(ext string) { t.ckptExt = ext }

func (t *TrainableLLM) LoRAActive() bool { return t.lora != nil }

// InitLoRA freezes the base model and wraps the selected projections
// with fresh adapters. numLayers > 0 narrows the selection to the last
// numLayers transformer layers; zero or negative adapts all of them.
// Re-initializing while adapters are active is a logged no-op.
func (t *TrainableLLM) InitLoRA(numLayers int, selector string, cfg lora.Config) error {
	if t.lora != nil {
		logger.Log.Warn("LoRA adapters already initialized")
		return nil
	}
	switch selector {
	case "all_linear", "query_value":
	default:
		return fmt.Errorf("unknown target selector %q", selector)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m := t.Model()
	nn.Freeze(m)

	type target struct {
		path string
		proj nn.Projection
	}
	var targets []target
	total := m.NumLayers()
	nn.Walk(m, func(mod nn.Module) {
		switch mod.(type) {
		case *nn.Linear, *nn.QuantizedLinear:
		default:
			return
		}
		path := mod.Path()
		if selector == "query_value" && !queryValuePattern.MatchString(path) {
			return
		}
		if !inLastLayers(path, total, numLayers) {
			return
		}
		targets = append(targets, target{path: path, proj: mod.(nn.Projection)})
	})
	if len(targets) == 0 {
		logger.Log.Error("no modules matched target selector", "selector", selector)
	}

	subs := make(map[string]nn.Module, len(targets))
	trainable := 0
	for _, tg := range targets {
		a, err := lora.FromLinear(tg.proj, cfg)
		if err != nil {
			return fmt.Errorf("wrap %s: %w", tg.path, err)
		}
		subs[tg.path] = a
		trainable += a.Size()
	}
	if _, err := nn.Replace(m, subs); err != nil {
		return err
	}
	nn.AssignPaths(m)
	nn.SetTraining(m, true)

	t.lora = &loraState{cfg: cfg, selector: selector, layers: numLayers, adapters: len(subs)}
	metrics.SetTrainableParameters(trainable)
	logger.Log.Info("initialized LoRA adapters",
		"modules", len(subs), "rank", cfg.Rank,
		"trainable_params", fmt.Sprintf("%.3fM", float64(trainable)/1e6))
	return nil
}

// inLastLayers reports whether path survives the layer restriction.
// Modules outside the layer stack, like the output projection, always
// do.
func inLastLayers(path string, total, last int) bool {
	if last <= 0 {
		return true
	}
	rest, ok := strings.CutPrefix(path, "layers.")
	if !ok {
		return true
	}
	idx, _, _ := strings.Cut(rest, ".")
	i, err := strconv.Atoi(idx)
	if err != nil {
		return true
	}
	return i >= total-last
}

// MergeAndUnloadLoRA folds every adapter back into its base projection.
// LoRA state is cleared and training mode switched off even when no
// adapters are installed.
func (t *TrainableLLM) MergeAndUnloadLoRA() error {
	m := t.Model()
	defer func() {
		t.lora = nil
		nn.SetTraining(m, false)
		metrics.SetTrainableParameters(0)
	}()

	var adapters []*lora.Adapter
	nn.Walk(m, func(mod nn.Module) {
		if a, ok := mod.(*lora.Adapter); ok {
			adapters = append(adapters, a)
		}
	})

	subs := make(map[string]nn.Module, len(adapters))
	for _, a := range adapters {
		merged, err := a.Merge()
		if err != nil {
			return fmt.Errorf("merge %s: %w", a.Path(), err)
		}
		subs[a.Path()] = merged
	}
	if len(subs) > 0 {
		if _, err := nn.Replace(m, subs); err != nil {
			return err
		}
		metrics.RecordAdapterMerges(len(subs))
	}
	nn.AssignPaths(m)
	logger.Log.Info("merged LoRA adapters", "count", len(subs))
	return nil
}

// SaveAdapters writes the trainable parameters, the LoRA factors, to
// path; the extension selects the format.
func (t *TrainableLLM) SaveAdapters(path string) error {
	if t.lora == nil {
		return ErrNoActiveLoRA
	}
	return weights.Save(path, nn.TrainableParameters(t.Model()))
}

// SaveCheckpoint writes the adapters under dir as ckpt-<step>, or
// ckpt-final for a negative step, and returns the written path.
func (t *TrainableLLM) SaveCheckpoint(dir string, step int) (string, error) {
	if t.lora == nil {
		return "", ErrNoActiveLoRA
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := "ckpt-final" + t.ckptExt
	if step >= 0 {
		name = fmt.Sprintf("ckpt-%d%s", step, t.ckptExt)
	}
	path := filepath.Join(dir, name)
	if err := t.SaveAdapters(path); err != nil {
		return "", err
	}
	metrics.RecordCheckpoint()
	logger.Log.Debug("wrote checkpoint", "path", path)
	return path, nil
}

// LoadAdapters fills matching parameters from a saved adapter archive.
// The path must exist; names absent from the model are ignored, so a
// partial adapter set loads cleanly.
func (t *TrainableLLM) LoadAdapters(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("adapter path: %w", err)
	}
	archive, err := weights.Load(path)
	if err != nil {
		return err
	}
	return t.UpdateWeights(archive)
}
