package engine

import (
	"fmt"
	"math"

	"github.com/ivanfioravanti/SiLLM/internal/dataset"
	"github.com/ivanfioravanti/SiLLM/internal/lora"
	"github.com/ivanfioravanti/SiLLM/internal/model"
	"github.com/ivanfioravanti/SiLLM/internal/nn"
	"github.com/ivanfioravanti/SiLLM/internal/tensor"
)

func init() {
	Register("bigram", func() Engine { return &Bigram{} })
}

// Bigram is the reference engine: it scores the next token from the
// current token's embedding pushed through the model's output projection.
// That projection is polymorphic (plain, quantized, or adapter-wrapped),
// and for an adapter-wrapped output the gradient of the cross-entropy
// with respect to the adapter factors has a closed form, which is what
// ValueAndGrad computes. Gradients are evaluated with dropout suspended
// so value and gradient describe the same function.
type Bigram struct{}

func (b *Bigram) Name() string { return "bigram" }

func (b *Bigram) Forward(m *model.Model, tokens []int, cache Cache) (*tensor.Tensor, Cache, error) {
	if len(tokens) == 0 {
		return nil, cache, fmt.Errorf("bigram: empty token sequence")
	}
	last := tokens[len(tokens)-1]
	if last < 0 || last >= m.Embeddings().VocabSize() {
		return nil, cache, fmt.Errorf("bigram: token %d outside vocab of %d", last, m.Embeddings().VocabSize())
	}
	logits := m.Output().Forward(m.Embeddings().Lookup(last))
	return logits, cache, nil
}

func (b *Bigram) Loss(m *model.Model, batch dataset.Batch) (float64, int, error) {
	var total float64
	count := 0
	for i := range batch.Inputs {
		in, tg := batch.Inputs[i], batch.Targets[i]
		if len(in) != len(tg) {
			return 0, 0, fmt.Errorf("bigram: row %d has %d inputs for %d targets", i, len(in), len(tg))
		}
		for t := range in {
			logits, _, err := b.Forward(m, in[t:t+1], nil)
			if err != nil {
				return 0, 0, err
			}
			lp, err := logProb(logits.Data(), tg[t])
			if err != nil {
				return 0, 0, err
			}
			total -= lp
			count++
		}
	}
	if count == 0 {
		return 0, 0, fmt.Errorf("bigram: empty batch")
	}
	return total / float64(count), count, nil
}

func (b *Bigram) ValueAndGrad(m *model.Model) GradFunc {
	return func(batch dataset.Batch) (float64, int, map[string]*tensor.Tensor, error) {
		trainable := nn.TrainableParameters(m)
		grads := make(map[string]*tensor.Tensor, len(trainable))
		for name, p := range trainable {
			grads[name] = tensor.Zeros(name, p.Dims()...)
		}

		adapter, _ := m.Output().(*lora.Adapter)
		var gradA, gradB []float32
		var nameA, nameB string
		if adapter != nil {
			pa, pb := adapter.Params()["lora_a"], adapter.Params()["lora_b"]
			for name, p := range trainable {
				switch p {
				case pa:
					nameA = name
					gradA = make([]float32, pa.NumElements())
				case pb:
					nameB = name
					gradB = make([]float32, pb.NumElements())
				}
			}
			// Gradient flow needs trainable factors.
			if gradA == nil || gradB == nil {
				adapter = nil
			}
		}

		var total float64
		count := 0
		for i := range batch.Inputs {
			in, tg := batch.Inputs[i], batch.Targets[i]
			if len(in) != len(tg) {
				return 0, 0, nil, fmt.Errorf("bigram: row %d has %d inputs for %d targets", i, len(in), len(tg))
			}
			for t := range in {
				lp, err := b.accumulate(m, adapter, in[t], tg[t], gradA, gradB)
				if err != nil {
					return 0, 0, nil, err
				}
				total -= lp
				count++
			}
		}
		if count == 0 {
			return 0, 0, nil, fmt.Errorf("bigram: empty batch")
		}

		inv := float32(1 / float64(count))
		if adapter != nil {
			scaleInto(grads[nameA].Data(), gradA, inv)
			scaleInto(grads[nameB].Data(), gradB, inv)
		}
		return total / float64(count), count, grads, nil
	}
}

// accumulate scores one (input, target) pair and, when the output is
// adapter-wrapped, adds the pair's factor gradients into gradA and gradB.
func (b *Bigram) accumulate(m *model.Model, adapter *lora.Adapter, in, tg int, gradA, gradB []float32) (float64, error) {
	emb := m.Embeddings()
	if in < 0 || in >= emb.VocabSize() {
		return 0, fmt.Errorf("bigram: token %d outside vocab of %d", in, emb.VocabSize())
	}
	xt := emb.Lookup(in)

	var logits []float32
	var z []float32
	var aData, bData []float32
	var rank, out int
	var scale float32

	if adapter != nil {
		x := xt.Data()
		aData = adapter.Params()["lora_a"].Data()
		bData = adapter.Params()["lora_b"].Data()
		rank = adapter.Params()["lora_a"].Dims()[1]
		out = adapter.OutDim()
		scale = adapter.Scale()

		// z = A^T x, dropout suspended
		z = make([]float32, rank)
		for i, xv := range x {
			if xv == 0 {
				continue
			}
			row := aData[i*rank:]
			for r := 0; r < rank; r++ {
				z[r] += xv * row[r]
			}
		}

		logits = append([]float32(nil), adapter.BaseForward(xt).Data()...)
		for r := 0; r < rank; r++ {
			zr := z[r]
			if zr == 0 {
				continue
			}
			row := bData[r*out:]
			for o := 0; o < out; o++ {
				logits[o] += scale * zr * row[o]
			}
		}
	} else {
		logits = m.Output().Forward(xt).Data()
	}

	lp, err := logProb(logits, tg)
	if err != nil {
		return 0, err
	}
	if adapter == nil {
		return lp, nil
	}

	// dL/dlogits = softmax - onehot(tg)
	g := softmax(logits)
	g[tg] -= 1

	// dL/dB = scale * outer(z, g); dL/dA = scale * outer(x, B g)
	for r := 0; r < rank; r++ {
		zr := z[r]
		row := bData[r*out:]
		grow := gradB[r*out:]
		var bg float32
		for o := 0; o < out; o++ {
			grow[o] += scale * zr * g[o]
			bg += row[o] * g[o]
		}
		z[r] = scale * bg // reuse z as scale * (B g)
	}
	for i, xv := range xt.Data() {
		if xv == 0 {
			continue
		}
		grow := gradA[i*rank:]
		for r := 0; r < rank; r++ {
			grow[r] += xv * z[r]
		}
	}
	return lp, nil
}

func logProb(logits []float32, target int) (float64, error) {
	if target < 0 || target >= len(logits) {
		return 0, fmt.Errorf("bigram: target %d outside vocab of %d", target, len(logits))
	}
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v - max))
	}
	return float64(logits[target]-max) - math.Log(sum), nil
}

func softmax(logits []float32) []float32 {
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	var sum float64
	exps := make([]float32, len(logits))
	for i, v := range logits {
		e := math.Exp(float64(v - max))
		exps[i] = float32(e)
		sum += e
	}
	inv := float32(1 / sum)
	for i := range exps {
		exps[i] *= inv
	}
	return exps
}

func scaleInto(dst, src []float32, s float32) {
	for i, v := range src {
		dst[i] = v * s
	}
}
