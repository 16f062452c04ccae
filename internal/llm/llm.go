// Package llm owns a model instance together with its tokenizer and
// engine, and provides the weight lifecycle: loading and saving
// archives, quantizing and dequantizing linear layers, and token
// generation.
package llm

import (
	"errors"
	"fmt"

	"github.com/ivanfioravanti/SiLLM/internal/config"
	"github.com/ivanfioravanti/SiLLM/internal/engine"
	"github.com/ivanfioravanti/SiLLM/internal/logger"
	"github.com/ivanfioravanti/SiLLM/internal/lora"
	"github.com/ivanfioravanti/SiLLM/internal/metrics"
	"github.com/ivanfioravanti/SiLLM/internal/model"
	"github.com/ivanfioravanti/SiLLM/internal/nn"
	"github.com/ivanfioravanti/SiLLM/internal/quant"
	"github.com/ivanfioravanti/SiLLM/internal/tensor"
	"github.com/ivanfioravanti/SiLLM/internal/tokenizer"
	"github.com/ivanfioravanti/SiLLM/internal/weights"
)

// ErrLoRAActive rejects weight-layout changes while adapters are
// installed; merge or unload them first.
var ErrLoRAActive = errors.New("model has active LoRA adapters")

type LLM struct {
	model        *model.Model
	tok          *tokenizer.Vocab
	eng          engine.Engine
	args         config.ModelArgs
	quantization *quant.Config
}

func New(args config.ModelArgs, tok *tokenizer.Vocab, eng engine.Engine) (*LLM, error) {
	m, err := model.New(args)
	if err != nil {
		return nil, err
	}
	l := &LLM{model: m, tok: tok, eng: eng, args: args}
	// A quantized checkpoint stores packed weights; the tree must match
	// before UpdateWeights can copy them in.
	if args.Quantization != nil {
		if err := l.Quantize(args.Quantization.GroupSize, args.Quantization.Bits, nil); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *LLM) Model() *model.Model         { return l.model }
func (l *LLM) Tokenizer() *tokenizer.Vocab { return l.tok }
func (l *LLM) Engine() engine.Engine       { return l.eng }
func (l *LLM) Args() config.ModelArgs      { return l.args }
func (l *LLM) Quantization() *quant.Config { return l.quantization }

// UpdateWeights copies archive entries into matching parameters.
// Parameters absent from the archive are skipped with a debug log;
// shape mismatches are errors. VerifyWeights reports completeness
// separately.
func (l *LLM) UpdateWeights(archive map[string]*tensor.Tensor) error {
	params := nn.Parameters(l.model)
	updated := make([]*tensor.Tensor, 0, len(params))
	for _, name := range nn.SortedKeys(params) {
		src, ok := archive[name]
		if !ok {
			logger.Log.Debug("parameter not in archive", "name", name)
			continue
		}
		p := params[name]
		if err := p.CopyFrom(src); err != nil {
			return err
		}
		updated = append(updated, p)
	}
	for name := range archive {
		if _, ok := params[name]; !ok {
			logger.Log.Debug("archive entry has no parameter", "name", name)
		}
	}
	tensor.Eval(updated...)
	return nil
}

// VerifyWeights reports whether the archive covers every parameter,
// logging each missing name.
func (l *LLM) VerifyWeights(archive map[string]*tensor.Tensor) bool {
	complete := true
	for _, name := range nn.SortedKeys(nn.Parameters(l.model)) {
		if _, ok := archive[name]; !ok {
			logger.Log.Warn("weight not found", "name", name)
			complete = false
		}
	}
	return complete
}

func (l *LLM) SaveWeights(path string) error {
	return weights.Save(path, nn.Parameters(l.model))
}

func (l *LLM) LoadWeights(path string) error {
	archive, err := weights.Load(path)
	if err != nil {
		return err
	}
	return l.UpdateWeights(archive)
}

// Quantize converts eligible linear layers to packed storage. Layers
// named in excluded keep full precision, as do projections 8 wide
// (mixture-of-experts router gates). A second call is a logged no-op.
func (l *LLM) Quantize(groupSize, bits int, excluded []string) error {
	if l.quantization != nil {
		logger.Log.Warn("model already quantized",
			"group_size", l.quantization.GroupSize, "bits", l.quantization.Bits)
		return nil
	}
	if l.hasAdapters() {
		return ErrLoRAActive
	}
	cfg := quant.Config{GroupSize: groupSize, Bits: bits}
	if err := cfg.Validate(); err != nil {
		return err
	}

	skip := make(map[string]bool, len(excluded))
	for _, name := range excluded {
		skip[name] = true
	}

	var targets []*nn.Linear
	nn.Walk(l.model, func(m nn.Module) {
		lin, ok := m.(*nn.Linear)
		if !ok || skip[lin.Path()] || lin.OutDim() == 8 {
			return
		}
		targets = append(targets, lin)
	})

	subs := make(map[string]nn.Module, len(targets))
	for _, lin := range targets {
		q, err := nn.Quantize(lin, cfg)
		if err != nil {
			return err
		}
		subs[lin.Path()] = q
		metrics.RecordQuantizedLayer(bits)
	}
	if _, err := nn.Replace(l.model, subs); err != nil {
		return err
	}
	nn.AssignPaths(l.model)
	l.quantization = &cfg
	l.args.Quantization = &cfg
	logger.Log.Info("quantized model", "layers", len(subs), "group_size", groupSize, "bits", bits)
	return nil
}

// Dequantize rebuilds every packed linear as a half-precision plain
// linear. A call on an unquantized model is a logged no-op.
func (l *LLM) Dequantize() error {
	if l.quantization == nil {
		logger.Log.Warn("model is not quantized")
		return nil
	}
	if l.hasAdapters() {
		return ErrLoRAActive
	}

	var targets []*nn.QuantizedLinear
	nn.Walk(l.model, func(m nn.Module) {
		if q, ok := m.(*nn.QuantizedLinear); ok {
			targets = append(targets, q)
		}
	})

	subs := make(map[string]nn.Module, len(targets))
	for _, q := range targets {
		lin, err := q.Dequantize()
		if err != nil {
			return fmt.Errorf("dequantize %s: %w", q.Path(), err)
		}
		subs[q.Path()] = lin
	}
	if _, err := nn.Replace(l.model, subs); err != nil {
		return err
	}
	nn.AssignPaths(l.model)
	l.quantization = nil
	l.args.Quantization = nil
	logger.Log.Info("dequantized model", "layers", len(subs))
	return nil
}

func (l *LLM) hasAdapters() bool {
	found := false
	nn.Walk(l.model, func(m nn.Module) {
		if _, ok := m.(*lora.Adapter); ok {
			found = true
		}
	})
	return found
}
