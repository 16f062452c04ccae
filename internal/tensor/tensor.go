package tensor

import (
	"fmt"
	"math/rand"
)

type DType int

const (
	F32 DType = iota
	F16
	U32
)

func (d DType) String() string {
	switch d {
	case F32:
		return "F32"
	case F16:
		return "F16"
	case U32:
		return "U32"
	default:
		return fmt.Sprintf("DType(%d)", int(d))
	}
}

// Tensor is a named value in the module tree. Float tensors may be lazy: an
// op builds a Tensor carrying a compute thunk, and the numbers only exist
// once Data, Materialize or Eval forces them. U32 tensors hold packed
// quantized words and are always materialized.
type Tensor struct {
	name      string
	dims      []int
	strides   []int
	dtype     DType
	data      []float32
	words     []uint32
	compute   func() []float32
	trainable bool
}

func New(name string, dims []int, data []float32) *Tensor {
	if len(data) != numElements(dims) {
		panic(fmt.Sprintf("tensor %s: %d values for dims %v", name, len(data), dims))
	}
	return &Tensor{
		name:    name,
		dims:    append([]int(nil), dims...),
		strides: rowMajorStrides(dims),
		dtype:   F32,
		data:    data,
	}
}

// NewLazy defers computation of a float tensor until it is forced.
func NewLazy(name string, dims []int, dtype DType, compute func() []float32) *Tensor {
	return &Tensor{
		name:    name,
		dims:    append([]int(nil), dims...),
		strides: rowMajorStrides(dims),
		dtype:   dtype,
		compute: compute,
	}
}

// NewWords wraps packed uint32 storage, one word per packed group of values.
func NewWords(name string, dims []int, words []uint32) *Tensor {
	if len(words) != numElements(dims) {
		panic(fmt.Sprintf("tensor %s: %d words for dims %v", name, len(words), dims))
	}
	return &Tensor{
		name:    name,
		dims:    append([]int(nil), dims...),
		strides: rowMajorStrides(dims),
		dtype:   U32,
		words:   words,
	}
}

func Zeros(name string, dims ...int) *Tensor {
	return New(name, dims, make([]float32, numElements(dims)))
}

// Uniform samples elementwise from [low, high).
func Uniform(name string, low, high float64, rng *rand.Rand, dims ...int) *Tensor {
	data := make([]float32, numElements(dims))
	for i := range data {
		data[i] = float32(low + rng.Float64()*(high-low))
	}
	return New(name, dims, data)
}

func (t *Tensor) Name() string     { return t.name }
func (t *Tensor) SetName(n string) { t.name = n }
func (t *Tensor) Dims() []int      { return t.dims }
func (t *Tensor) Strides() []int   { return t.strides }
func (t *Tensor) DType() DType     { return t.dtype }

func (t *Tensor) NumElements() int {
	return numElements(t.dims)
}

func (t *Tensor) Materialized() bool {
	return t.compute == nil
}

// Materialize forces the compute thunk, if any. Inputs captured by the thunk
// are forced transitively.
func (t *Tensor) Materialize() {
	if t.compute != nil {
		t.data = t.compute()
		t.compute = nil
	}
}

// Data forces materialization and returns the float storage. Panics for U32
// tensors, which have no float view.
func (t *Tensor) Data() []float32 {
	if t.dtype == U32 {
		panic(fmt.Sprintf("tensor %s: float access to U32 storage", t.name))
	}
	t.Materialize()
	return t.data
}

// Words returns the packed uint32 storage of a U32 tensor.
func (t *Tensor) Words() []uint32 {
	if t.dtype != U32 {
		panic(fmt.Sprintf("tensor %s: word access to %s storage", t.name, t.dtype))
	}
	return t.words
}

func (t *Tensor) Trainable() bool     { return t.trainable }
func (t *Tensor) SetTrainable(v bool) { t.trainable = v }

// CopyFrom overwrites t's storage with src's values. Dims and storage class
// must agree; dtype tags may differ between float tensors (loading f32
// values into an f16 slot keeps the slot's tag).
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !sameDims(t.dims, src.dims) {
		return fmt.Errorf("tensor %s: cannot load dims %v into %v", t.name, src.dims, t.dims)
	}
	if (t.dtype == U32) != (src.dtype == U32) {
		return fmt.Errorf("tensor %s: cannot load %s into %s", t.name, src.dtype, t.dtype)
	}
	if t.dtype == U32 {
		copy(t.words, src.words)
		return nil
	}
	src.Materialize()
	t.data = append(t.data[:0:0], src.data...)
	t.compute = nil
	if t.dtype == F16 {
		roundF16(t.data)
	}
	return nil
}

func (t *Tensor) Clone() *Tensor {
	c := &Tensor{
		name:      t.name,
		dims:      append([]int(nil), t.dims...),
		strides:   append([]int(nil), t.strides...),
		dtype:     t.dtype,
		trainable: t.trainable,
	}
	if t.dtype == U32 {
		c.words = append([]uint32(nil), t.words...)
		return c
	}
	t.Materialize()
	c.data = append([]float32(nil), t.data...)
	return c
}

// Eval is the synchronization barrier: every listed tensor is materialized
// before it returns.
func Eval(ts ...*Tensor) {
	for _, t := range ts {
		if t != nil && t.dtype != U32 {
			t.Materialize()
		}
	}
}

func numElements(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

func rowMajorStrides(dims []int) []int {
	strides := make([]int, len(dims))
	acc := 1
	for i := len(dims) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= dims[i]
	}
	return strides
}
