// Package engine defines the execution collaborator behind the model
// wrapper: something that can turn a token sequence into next-token
// logits, score a batch, and produce gradients for the trainable
// parameters. Implementations self-register by name.
package engine

import (
	"fmt"
	"sort"

	"github.com/ivanfioravanti/SiLLM/internal/dataset"
	"github.com/ivanfioravanti/SiLLM/internal/model"
	"github.com/ivanfioravanti/SiLLM/internal/tensor"
)

// Cache carries whatever recurrent state an engine threads between
// Forward calls. Callers treat it as opaque.
type Cache any

// GradFunc evaluates one batch and returns the loss, the number of target
// tokens scored, and a gradient tensor per trainable parameter.
// Parameters the engine cannot differentiate get zero gradients rather
// than being omitted.
type GradFunc func(batch dataset.Batch) (loss float64, tokens int, grads map[string]*tensor.Tensor, err error)

type Engine interface {
	Name() string

	// Forward returns next-token logits for the sequence and the cache to
	// pass into the next call.
	Forward(m *model.Model, tokens []int, cache Cache) (*tensor.Tensor, Cache, error)

	// Loss is the mean cross-entropy over the batch's target tokens,
	// alongside the token count.
	Loss(m *model.Model, batch dataset.Batch) (float64, int, error)

	// ValueAndGrad binds m into a gradient function over batches.
	ValueAndGrad(m *model.Model) GradFunc
}

var registry = map[string]func() Engine{}

// Register installs an engine factory under name. Called from init.
func Register(name string, factory func() Engine) {
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("engine %q registered twice", name))
	}
	registry[name] = factory
}

// New instantiates a registered engine.
func New(name string) (Engine, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown engine %q (have %v)", name, Names())
	}
	return factory(), nil
}

// Names lists the registered engines in stable order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
