// Package nn provides the module tree: named modules holding parameter
// tensors, containers holding child modules, and the walks that stamp
// dotted paths, collect flat parameter maps and rewrite sub-modules.
package nn

import (
	"fmt"
	"sort"

	"github.com/ivanfioravanti/SiLLM/internal/tensor"
)

// Module is any node in the tree. Paths are dotted names from the root
// ("layers.0.attention.wq") and are stamped explicitly by AssignPaths;
// every structural rewrite must be followed by a fresh AssignPaths pass.
type Module interface {
	Path() string
	SetPath(string)
}

// Child is a named edge from a container to one of its sub-modules.
type Child struct {
	Name   string
	Module Module
}

// Container is a module with named sub-modules. SetChild substitutes a
// sub-module in place and fails if the name is unknown or the replacement
// has the wrong capability for that slot.
type Container interface {
	Module
	Children() []Child
	SetChild(name string, m Module) error
}

// ParamHolder is a module owning parameter tensors under local names
// ("weight", "bias", "scales", ...).
type ParamHolder interface {
	Module
	Params() map[string]*tensor.Tensor
}

// TrainingAware modules change behavior between training and inference,
// dropout being the one case here.
type TrainingAware interface {
	SetTraining(v bool)
}

// Projection is the capability shared by the linear layer variants: plain,
// quantized and adapter-wrapped. Code that rewrites the tree switches on
// the concrete type; code that runs it only needs this.
type Projection interface {
	Module
	Forward(x *tensor.Tensor) *tensor.Tensor
	InDim() int
	OutDim() int
	Bias() *tensor.Tensor
}

// PathJoin joins dotted path segments, treating the empty root specially.
func PathJoin(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

// Walk visits mod and, depth first, every descendant.
func Walk(mod Module, fn func(Module)) {
	fn(mod)
	if c, ok := mod.(Container); ok {
		for _, ch := range c.Children() {
			Walk(ch.Module, fn)
		}
	}
}

// AssignPaths stamps every module with its dotted path from root and
// renames every parameter tensor to its flattened key.
func AssignPaths(root Module) {
	assignPaths(root, "")
}

func assignPaths(mod Module, path string) {
	mod.SetPath(path)
	if ph, ok := mod.(ParamHolder); ok {
		for name, t := range ph.Params() {
			if t != nil {
				t.SetName(PathJoin(path, name))
			}
		}
	}
	if c, ok := mod.(Container); ok {
		for _, ch := range c.Children() {
			assignPaths(ch.Module, PathJoin(path, ch.Name))
		}
	}
}

// Parameters flattens the tree into key -> tensor, keys joined from module
// paths and local parameter names.
func Parameters(root Module) map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor)
	Walk(root, func(m Module) {
		ph, ok := m.(ParamHolder)
		if !ok {
			return
		}
		for name, t := range ph.Params() {
			if t != nil {
				out[PathJoin(m.Path(), name)] = t
			}
		}
	})
	return out
}

// TrainableParameters is Parameters restricted to tensors marked trainable.
func TrainableParameters(root Module) map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor)
	for name, t := range Parameters(root) {
		if t.Trainable() {
			out[name] = t
		}
	}
	return out
}

// SortedKeys returns the keys of a flat parameter map in stable order.
func SortedKeys(params map[string]*tensor.Tensor) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Freeze marks every parameter in the tree non-trainable.
func Freeze(root Module) {
	for _, t := range Parameters(root) {
		t.SetTrainable(false)
	}
}

// SetTraining toggles training behavior on every module that has any.
func SetTraining(root Module, v bool) {
	Walk(root, func(m Module) {
		if ta, ok := m.(TrainingAware); ok {
			ta.SetTraining(v)
		}
	})
}

// Replace substitutes sub-modules by path. Paths must be current, so run
// AssignPaths before and again after. The displaced modules are returned
// keyed by path; a path that matches nothing is an error.
func Replace(root Module, subs map[string]Module) (map[string]Module, error) {
	displaced := make(map[string]Module, len(subs))
	var firstErr error
	Walk(root, func(m Module) {
		c, ok := m.(Container)
		if !ok {
			return
		}
		for _, ch := range c.Children() {
			repl, want := subs[ch.Module.Path()]
			if !want {
				continue
			}
			old := ch.Module
			if err := c.SetChild(ch.Name, repl); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("replace %s: %w", ch.Module.Path(), err)
				}
				continue
			}
			displaced[old.Path()] = old
		}
	})
	if firstErr != nil {
		return nil, firstErr
	}
	if len(displaced) != len(subs) {
		for path := range subs {
			if _, ok := displaced[path]; !ok {
				return nil, fmt.Errorf("replace: no module at path %q", path)
			}
		}
	}
	return displaced, nil
}
