package train

import (
	"math"

	"github.com/ivanfioravanti/SiLLM/internal/nn"
	"github.com/ivanfioravanti/SiLLM/internal/tensor"
)

// adam holds bias-corrected first and second moment estimates per
// parameter. Moments accumulate in float64 so thousands of tiny
// updates do not wash out at float32 precision.
type adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	step  int
	m     map[string][]float64
	v     map[string][]float64
}

func newAdam(lr float64) *adam {
	return &adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		m:     make(map[string][]float64),
		v:     make(map[string][]float64),
	}
}

// Update applies one optimizer step in place to every parameter that
// received a gradient. Gradients without a matching parameter are
// skipped.
func (o *adam) Update(params, grads map[string]*tensor.Tensor) {
	o.step++
	c1 := 1 - math.Pow(o.beta1, float64(o.step))
	c2 := 1 - math.Pow(o.beta2, float64(o.step))

	for _, name := range nn.SortedKeys(grads) {
		p, ok := params[name]
		if !ok {
			continue
		}
		gd := grads[name].Data()
		pd := p.Data()
		m, v := o.m[name], o.v[name]
		if m == nil {
			m = make([]float64, len(gd))
			v = make([]float64, len(gd))
			o.m[name], o.v[name] = m, v
		}
		for i, g := range gd {
			gf := float64(g)
			m[i] = o.beta1*m[i] + (1-o.beta1)*gf
			v[i] = o.beta2*v[i] + (1-o.beta2)*gf*gf
			pd[i] -= float32(o.lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + o.eps))
		}
	}
}
