// Package model builds the module trees for the supported architectures.
// Layer names follow the upstream checkpoint layout ("layers.0.attention.wq",
// "feed_forward.w1", ...), which the adapter target selectors and weight
// archives both rely on.
package model

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/ivanfioravanti/SiLLM/internal/config"
	"github.com/ivanfioravanti/SiLLM/internal/nn"
	"github.com/ivanfioravanti/SiLLM/internal/tensor"
)

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

// Seed makes fresh-model initialization deterministic.
func Seed(seed int64) {
	rng = rand.New(rand.NewSource(seed))
}

// UnsupportedArchError is returned for a model_type this package cannot
// build. Construction is the one place an unknown architecture can enter,
// so this is fatal to the caller.
type UnsupportedArchError struct {
	Tag string
}

func (e UnsupportedArchError) Error() string {
	return fmt.Sprintf("model type %q is not supported", e.Tag)
}

// Model is the root of the module tree.
type Model struct {
	path   string
	args   config.ModelArgs
	embeds *nn.Embedding
	layers []*TransformerBlock
	norm   *nn.RMSNorm
	output nn.Projection
}

// New builds a freshly initialized tree for args. Weights are uniform in
// +-1/sqrt(fan-in) until an archive replaces them. Paths are stamped
// before returning.
func New(args config.ModelArgs) (*Model, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}

	var moe bool
	switch args.ModelType {
	case "llama", "mistral":
	case "mixtral":
		moe = true
		if args.MoE == nil {
			return nil, fmt.Errorf("model type mixtral requires moe args")
		}
	default:
		return nil, UnsupportedArchError{Tag: args.ModelType}
	}

	m := &Model{
		args:   args,
		embeds: nn.NewEmbedding(initTensor(args.VocabSize, args.Dim)),
		norm:   nn.NewRMSNorm(onesTensor(args.Dim), args.NormEps),
		output: nn.NewLinear(initTensor(args.VocabSize, args.Dim), nil),
	}
	m.layers = make([]*TransformerBlock, args.NumLayers)
	for i := range m.layers {
		m.layers[i] = newBlock(args, moe)
	}

	nn.AssignPaths(m)
	return m, nil
}

func newBlock(args config.ModelArgs, moe bool) *TransformerBlock {
	headsDim := args.NumHeads * args.HeadDim
	kvDim := args.NumKVHeads * args.HeadDim

	b := &TransformerBlock{
		attention: &Attention{
			wq: nn.NewLinear(initTensor(headsDim, args.Dim), nil),
			wk: nn.NewLinear(initTensor(kvDim, args.Dim), nil),
			wv: nn.NewLinear(initTensor(kvDim, args.Dim), nil),
			wo: nn.NewLinear(initTensor(args.Dim, headsDim), nil),
		},
		attentionNorm: nn.NewRMSNorm(onesTensor(args.Dim), args.NormEps),
		ffnNorm:       nn.NewRMSNorm(onesTensor(args.Dim), args.NormEps),
	}

	if moe {
		experts := make([]*FeedForward, args.MoE.NumExperts)
		for i := range experts {
			experts[i] = newFeedForward(args)
		}
		b.feedForward = &MoEFeedForward{
			gate:    nn.NewLinear(initTensor(args.MoE.NumExperts, args.Dim), nil),
			experts: experts,
		}
	} else {
		b.feedForward = newFeedForward(args)
	}
	return b
}

func newFeedForward(args config.ModelArgs) *FeedForward {
	return &FeedForward{
		w1: nn.NewLinear(initTensor(args.HiddenDim, args.Dim), nil),
		w2: nn.NewLinear(initTensor(args.Dim, args.HiddenDim), nil),
		w3: nn.NewLinear(initTensor(args.HiddenDim, args.Dim), nil),
	}
}

func initTensor(out, in int) *tensor.Tensor {
	bound := 1 / math.Sqrt(float64(in))
	return tensor.Uniform("weight", -bound, bound, rng, out, in)
}

func onesTensor(n int) *tensor.Tensor {
	data := make([]float32, n)
	for i := range data {
		data[i] = 1
	}
	return tensor.New("weight", []int{n}, data)
}

func (m *Model) Path() string                { return m.path }
func (m *Model) SetPath(p string)            { m.path = p }
func (m *Model) Args() config.ModelArgs      { return m.args }
func (m *Model) Embeddings() *nn.Embedding   { return m.embeds }
func (m *Model) Layers() []*TransformerBlock { return m.layers }
func (m *Model) Output() nn.Projection       { return m.output }
func (m *Model) NumLayers() int              { return len(m.layers) }

func (m *Model) Children() []nn.Child {
	ch := make([]nn.Child, 0, len(m.layers)+3)
	ch = append(ch, nn.Child{Name: "tok_embeddings", Module: m.embeds})
	for i, l := range m.layers {
		ch = append(ch, nn.Child{Name: "layers." + strconv.Itoa(i), Module: l})
	}
	ch = append(ch, nn.Child{Name: "norm", Module: m.norm})
	ch = append(ch, nn.Child{Name: "output", Module: m.output})
	return ch
}

func (m *Model) SetChild(name string, mod nn.Module) error {
	switch name {
	case "tok_embeddings":
		e, ok := mod.(*nn.Embedding)
		if !ok {
			return fmt.Errorf("tok_embeddings slot cannot hold %T", mod)
		}
		m.embeds = e
		return nil
	case "norm":
		n, ok := mod.(*nn.RMSNorm)
		if !ok {
			return fmt.Errorf("norm slot cannot hold %T", mod)
		}
		m.norm = n
		return nil
	case "output":
		p, ok := mod.(nn.Projection)
		if !ok {
			return fmt.Errorf("output slot cannot hold %T", mod)
		}
		m.output = p
		return nil
	}
	if idx, ok := strings.CutPrefix(name, "layers."); ok {
		i, err := strconv.Atoi(idx)
		if err != nil || i < 0 || i >= len(m.layers) {
			return fmt.Errorf("model has no child %q", name)
		}
		b, ok := mod.(*TransformerBlock)
		if !ok {
			return fmt.Errorf("layer slot cannot hold %T", mod)
		}
		m.layers[i] = b
		return nil
	}
	return fmt.Errorf("model has no child %q", name)
}
