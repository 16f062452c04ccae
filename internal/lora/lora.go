// Package lora implements low-rank adapters over the linear layer
// variants. An Adapter owns the frozen base projection as a child module
// and two trainable factors; merging folds the factors back into the base
// weight and returns a plain (or re-quantized) layer.
package lora

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ivanfioravanti/SiLLM/internal/nn"
	"github.com/ivanfioravanti/SiLLM/internal/tensor"
)

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

// Seed makes adapter initialization and dropout deterministic.
func Seed(seed int64) {
	rng = rand.New(rand.NewSource(seed))
}

type Config struct {
	Rank    int     `json:"rank" yaml:"rank" toml:"rank"`
	Alpha   float64 `json:"alpha" yaml:"alpha" toml:"alpha"`
	Dropout float64 `json:"dropout" yaml:"dropout" toml:"dropout"`
	Scale   float64 `json:"scale" yaml:"scale" toml:"scale"`
}

func DefaultConfig() Config {
	return Config{Rank: 8, Alpha: 16, Dropout: 0, Scale: 10}
}

func (c Config) Validate() error {
	if c.Rank <= 0 {
		return fmt.Errorf("lora: rank must be positive, have %d", c.Rank)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("lora: dropout must be in [0, 1), have %v", c.Dropout)
	}
	return nil
}

// Adapter wraps a base projection with trainable low-rank factors:
// y = base(x) + scale * ((dropout(x) @ A) @ B).
type Adapter struct {
	path    string
	linear  nn.Projection
	loraA   *tensor.Tensor // [in, rank]
	loraB   *tensor.Tensor // [rank, out]
	scale   float32
	dropout *nn.Dropout
}

// FromLinear builds an adapter around base. The base keeps its weights
// untouched; A is initialized uniform in +-1/sqrt(in) and B to zeros, so a
// fresh adapter is an exact no-op on the forward path. For quantized bases
// the logical input width already accounts for the packing factor.
func FromLinear(base nn.Projection, cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch base.(type) {
	case *nn.Linear, *nn.QuantizedLinear:
	default:
		return nil, fmt.Errorf("lora: cannot adapt %T", base)
	}

	in, out := base.InDim(), base.OutDim()
	bound := 1 / math.Sqrt(float64(in))

	a := &Adapter{
		linear:  base,
		loraA:   tensor.Uniform("lora_a", -bound, bound, rng, in, cfg.Rank),
		loraB:   tensor.Zeros("lora_b", cfg.Rank, out),
		scale:   float32(cfg.Scale * cfg.Alpha / float64(cfg.Rank)),
		dropout: nn.NewDropout(cfg.Dropout, rng),
	}
	a.loraA.SetTrainable(true)
	a.loraB.SetTrainable(true)
	return a, nil
}

func (a *Adapter) Path() string         { return a.path }
func (a *Adapter) SetPath(p string)     { a.path = p }
func (a *Adapter) InDim() int           { return a.linear.InDim() }
func (a *Adapter) OutDim() int          { return a.linear.OutDim() }
func (a *Adapter) Bias() *tensor.Tensor { return a.linear.Bias() }
func (a *Adapter) Base() nn.Projection  { return a.linear }
func (a *Adapter) Scale() float32       { return a.scale }
func (a *Adapter) SetTraining(v bool)   { a.dropout.SetTraining(v) }

func (a *Adapter) Children() []nn.Child {
	return []nn.Child{{Name: "linear", Module: a.linear}}
}

func (a *Adapter) SetChild(name string, m nn.Module) error {
	if name != "linear" {
		return fmt.Errorf("lora: unknown child %q", name)
	}
	p, ok := m.(nn.Projection)
	if !ok {
		return fmt.Errorf("lora: child %q must be a projection, have %T", name, m)
	}
	a.linear = p
	return nil
}

func (a *Adapter) Params() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{
		"lora_a": a.loraA,
		"lora_b": a.loraB,
	}
}

// Size is the number of adapter parameters.
func (a *Adapter) Size() int {
	return a.loraA.NumElements() + a.loraB.NumElements()
}

func (a *Adapter) Forward(x *tensor.Tensor) *tensor.Tensor {
	y := a.BaseForward(x)
	z := tensor.VecMat(tensor.VecMat(a.dropout.Forward(x), a.loraA), a.loraB)
	return tensor.AddScaled(y, z, a.scale)
}

// BaseForward runs the wrapped projection with the adapter's input cast
// but without the low-rank correction.
func (a *Adapter) BaseForward(x *tensor.Tensor) *tensor.Tensor {
	return a.linear.Forward(tensor.CastLike(x, a.baseDTypeRef()))
}

// baseDTypeRef is the tensor whose dtype inputs are cast to: the base
// weight, or its scales when the base is quantized.
func (a *Adapter) baseDTypeRef() *tensor.Tensor {
	if q, ok := a.linear.(*nn.QuantizedLinear); ok {
		return q.Scales()
	}
	return a.linear.(*nn.Linear).Weight()
}

// Merge folds scale*(A@B)^T into the base weight and returns the merged
// layer: plain bases stay plain, quantized bases are dequantized, updated
// in the scale dtype, then re-quantized with their original settings.
func (a *Adapter) Merge() (nn.Projection, error) {
	update := tensor.Transpose(tensor.MatMul(a.loraA, a.loraB))

	switch l := a.linear.(type) {
	case *nn.Linear:
		w := tensor.AddScaled(l.Weight(), update, a.scale)
		w.SetName(l.Weight().Name())
		tensor.Eval(w)
		return nn.NewLinear(w, l.Bias()), nil
	case *nn.QuantizedLinear:
		dl, err := l.Dequantize()
		if err != nil {
			return nil, fmt.Errorf("lora: merge %s: %w", a.path, err)
		}
		w := tensor.AddScaled(dl.Weight(), update, a.scale)
		w.SetName(dl.Weight().Name())
		tensor.Eval(w)
		return nn.Quantize(nn.NewLinear(w, l.Bias()), l.Config())
	default:
		return nil, fmt.Errorf("lora: merge %s: unexpected base %T", a.path, a.linear)
	}
}
