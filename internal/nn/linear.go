package nn

import (
	"fmt"

	"github.com/ivanfioravanti/SiLLM/internal/quant"
	"github.com/ivanfioravanti/SiLLM/internal/tensor"
)

// Linear applies y = W x + b with W stored [out, in].
type Linear struct {
	path   string
	weight *tensor.Tensor
	bias   *tensor.Tensor
}

func NewLinear(weight, bias *tensor.Tensor) *Linear {
	if len(weight.Dims()) != 2 {
		panic(fmt.Sprintf("linear: weight dims %v, want 2", weight.Dims()))
	}
	return &Linear{weight: weight, bias: bias}
}

func (l *Linear) Path() string           { return l.path }
func (l *Linear) SetPath(p string)       { l.path = p }
func (l *Linear) InDim() int             { return l.weight.Dims()[1] }
func (l *Linear) OutDim() int            { return l.weight.Dims()[0] }
func (l *Linear) Weight() *tensor.Tensor { return l.weight }
func (l *Linear) Bias() *tensor.Tensor   { return l.bias }

func (l *Linear) Params() map[string]*tensor.Tensor {
	p := map[string]*tensor.Tensor{"weight": l.weight}
	if l.bias != nil {
		p["bias"] = l.bias
	}
	return p
}

func (l *Linear) Forward(x *tensor.Tensor) *tensor.Tensor {
	y := tensor.MatVec(l.weight, x)
	if l.bias != nil {
		y = tensor.Add(y, l.bias)
	}
	return y
}

// QuantizedLinear is a Linear whose weight is group-quantized: packed
// levels in a U32 tensor [out, in/packFactor] plus per-group scales and
// biases [out, in/groupSize]. The layer dtype is carried by the scales.
type QuantizedLinear struct {
	path    string
	weight  *tensor.Tensor // packed U32
	scales  *tensor.Tensor
	qbiases *tensor.Tensor
	bias    *tensor.Tensor
	cfg     quant.Config
}

// Quantize packs a plain linear layer. The output bias, when present, is
// carried over untouched.
func Quantize(l *Linear, cfg quant.Config) (*QuantizedLinear, error) {
	rows, cols := l.OutDim(), l.InDim()
	words, scales, biases, err := quant.Pack(l.weight.Data(), rows, cols, cfg)
	if err != nil {
		return nil, fmt.Errorf("quantize %s: %w", l.path, err)
	}
	groups := cols / cfg.GroupSize
	q := &QuantizedLinear{
		weight:  tensor.NewWords("weight", []int{rows, cols / cfg.PackFactor()}, words),
		scales:  tensor.CastF16(tensor.New("scales", []int{rows, groups}, scales)),
		qbiases: tensor.CastF16(tensor.New("biases", []int{rows, groups}, biases)),
		bias:    l.bias,
		cfg:     cfg,
	}
	tensor.Eval(q.scales, q.qbiases)
	return q, nil
}

func (q *QuantizedLinear) Path() string     { return q.path }
func (q *QuantizedLinear) SetPath(p string) { q.path = p }

// InDim recovers the logical input width from the packed storage.
func (q *QuantizedLinear) InDim() int {
	return q.weight.Dims()[1] * q.cfg.PackFactor()
}

func (q *QuantizedLinear) OutDim() int            { return q.weight.Dims()[0] }
func (q *QuantizedLinear) Bias() *tensor.Tensor   { return q.bias }
func (q *QuantizedLinear) Config() quant.Config   { return q.cfg }
func (q *QuantizedLinear) Scales() *tensor.Tensor { return q.scales }

func (q *QuantizedLinear) Params() map[string]*tensor.Tensor {
	p := map[string]*tensor.Tensor{
		"weight": q.weight,
		"scales": q.scales,
		"biases": q.qbiases,
	}
	if q.bias != nil {
		p["bias"] = q.bias
	}
	return p
}

// Forward widens the packed weight and runs the plain matmul path. Fused
// quantized kernels are a runtime concern, not handled here.
func (q *QuantizedLinear) Forward(x *tensor.Tensor) *tensor.Tensor {
	w := q.widened()
	y := tensor.MatVec(w, tensor.CastLike(x, q.scales))
	if q.bias != nil {
		y = tensor.Add(y, q.bias)
	}
	return y
}

func (q *QuantizedLinear) widened() *tensor.Tensor {
	rows, cols := q.OutDim(), q.InDim()
	words, scales, biases, cfg := q.weight, q.scales, q.qbiases, q.cfg
	return tensor.NewLazy("weight", []int{rows, cols}, tensor.F16, func() []float32 {
		out, err := quant.Unpack(words.Words(), rows, cols, scales.Data(), biases.Data(), cfg)
		if err != nil {
			panic(fmt.Sprintf("unpack %s: %v", words.Name(), err))
		}
		return out
	})
}

// Dequantize rebuilds the plain linear layer in half precision.
func (q *QuantizedLinear) Dequantize() (*Linear, error) {
	w := tensor.CastF16(q.widened())
	tensor.Eval(w)
	return NewLinear(w, q.bias), nil
}
