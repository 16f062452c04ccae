package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/ivanfioravanti/SiLLM/internal/tensor"
)

// Embedding maps token ids to rows of a [vocab, dim] table.
type Embedding struct {
	path   string
	weight *tensor.Tensor
}

func NewEmbedding(weight *tensor.Tensor) *Embedding {
	if len(weight.Dims()) != 2 {
		panic(fmt.Sprintf("embedding: weight dims %v, want 2", weight.Dims()))
	}
	return &Embedding{weight: weight}
}

func (e *Embedding) Path() string     { return e.path }
func (e *Embedding) SetPath(p string) { e.path = p }
func (e *Embedding) VocabSize() int   { return e.weight.Dims()[0] }
func (e *Embedding) Dim() int         { return e.weight.Dims()[1] }

func (e *Embedding) Params() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{"weight": e.weight}
}

func (e *Embedding) Lookup(id int) *tensor.Tensor {
	if id < 0 || id >= e.VocabSize() {
		panic(fmt.Sprintf("embedding %s: id %d outside vocab %d", e.path, id, e.VocabSize()))
	}
	dim := e.Dim()
	w := e.weight
	return tensor.NewLazy("", []int{dim}, tensor.F32, func() []float32 {
		row := w.Data()[id*dim : (id+1)*dim]
		return append([]float32(nil), row...)
	})
}

// RMSNorm scales x by weight / rms(x).
type RMSNorm struct {
	path   string
	weight *tensor.Tensor
	eps    float64
}

func NewRMSNorm(weight *tensor.Tensor, eps float64) *RMSNorm {
	return &RMSNorm{weight: weight, eps: eps}
}

func (n *RMSNorm) Path() string     { return n.path }
func (n *RMSNorm) SetPath(p string) { n.path = p }

func (n *RMSNorm) Params() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{"weight": n.weight}
}

func (n *RMSNorm) Forward(x *tensor.Tensor) *tensor.Tensor {
	w, eps := n.weight, n.eps
	return tensor.NewLazy("", x.Dims(), tensor.F32, func() []float32 {
		xd, wd := x.Data(), w.Data()
		var ss float64
		for _, v := range xd {
			ss += float64(v) * float64(v)
		}
		inv := 1 / math.Sqrt(ss/float64(len(xd))+eps)
		out := make([]float32, len(xd))
		for i, v := range xd {
			out[i] = v * float32(inv) * wd[i]
		}
		return out
	})
}

// Dropout zeroes elements with probability p during training and rescales
// the survivors by 1/(1-p). Outside training it is the identity.
type Dropout struct {
	p        float64
	training bool
	rng      *rand.Rand
}

func NewDropout(p float64, rng *rand.Rand) *Dropout {
	return &Dropout{p: p, rng: rng}
}

func (d *Dropout) SetTraining(v bool) { d.training = v }

func (d *Dropout) Forward(x *tensor.Tensor) *tensor.Tensor {
	if !d.training || d.p == 0 {
		return x
	}
	keep := 1 - d.p
	scale := float32(1 / keep)
	data := x.Data()
	out := make([]float32, len(data))
	for i, v := range data {
		if d.rng.Float64() < keep {
			out[i] = v * scale
		}
	}
	return tensor.New("", x.Dims(), out)
}
