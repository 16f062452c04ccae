package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func TestTensor_NewShape(t *testing.T) {
	ts := New("w", []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})

	dims := ts.Dims()
	if dims[0] != 2 || dims[1] != 3 {
		t.Errorf("dims = %v, want [2 3]", dims)
	}
	strides := ts.Strides()
	if strides[0] != 3 || strides[1] != 1 {
		t.Errorf("strides = %v, want [3 1]", strides)
	}
	if ts.NumElements() != 6 {
		t.Errorf("NumElements = %d, want 6", ts.NumElements())
	}
	if !ts.Materialized() {
		t.Error("eager tensor should be materialized")
	}
}

func TestTensor_LazyMaterialization(t *testing.T) {
	calls := 0
	ts := NewLazy("y", []int{2}, F32, func() []float32 {
		calls++
		return []float32{7, 9}
	})

	if ts.Materialized() {
		t.Fatal("lazy tensor reported materialized before Data")
	}
	if calls != 0 {
		t.Fatalf("thunk ran %d times before forcing", calls)
	}

	d := ts.Data()
	if d[0] != 7 || d[1] != 9 {
		t.Errorf("Data = %v, want [7 9]", d)
	}
	if !ts.Materialized() {
		t.Error("tensor not materialized after Data")
	}

	// Forcing twice must not recompute.
	ts.Data()
	if calls != 1 {
		t.Errorf("thunk ran %d times, want 1", calls)
	}
}

func TestEval_ForcesAll(t *testing.T) {
	a := NewLazy("a", []int{1}, F32, func() []float32 { return []float32{1} })
	b := NewLazy("b", []int{1}, F32, func() []float32 { return []float32{2} })

	Eval(a, nil, b)

	if !a.Materialized() || !b.Materialized() {
		t.Error("Eval left a listed tensor unmaterialized")
	}
}

func TestMatMul(t *testing.T) {
	// [1 2; 3 4] @ [5 6; 7 8] = [19 22; 43 50]
	a := New("a", []int{2, 2}, []float32{1, 2, 3, 4})
	b := New("b", []int{2, 2}, []float32{5, 6, 7, 8})

	c := MatMul(a, b)
	if c.Materialized() {
		t.Error("matmul result materialized before forcing")
	}

	want := []float32{19, 22, 43, 50}
	for i, v := range c.Data() {
		if v != want[i] {
			t.Errorf("c[%d] = %v, want %v", i, v, want[i])
		}
	}
}

func TestMatVec_VecMat(t *testing.T) {
	a := New("a", []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	x := New("x", []int{3}, []float32{1, 0, -1})

	y := MatVec(a, x).Data()
	if y[0] != -2 || y[1] != -2 {
		t.Errorf("MatVec = %v, want [-2 -2]", y)
	}

	v := New("v", []int{2}, []float32{1, 10})
	z := VecMat(v, New("b", []int{2, 2}, []float32{1, 2, 3, 4})).Data()
	// [1 10] @ [1 2; 3 4] = [31 42]
	if z[0] != 31 || z[1] != 42 {
		t.Errorf("VecMat = %v, want [31 42]", z)
	}
}

func TestTranspose(t *testing.T) {
	a := New("a", []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	at := Transpose(a)

	dims := at.Dims()
	if dims[0] != 3 || dims[1] != 2 {
		t.Fatalf("transpose dims = %v, want [3 2]", dims)
	}
	want := []float32{1, 4, 2, 5, 3, 6}
	for i, v := range at.Data() {
		if v != want[i] {
			t.Errorf("at[%d] = %v, want %v", i, v, want[i])
		}
	}
}

func TestAddScaled(t *testing.T) {
	a := New("a", []int{3}, []float32{1, 2, 3})
	b := New("b", []int{3}, []float32{10, 20, 30})

	c := AddScaled(a, b, 0.5).Data()
	want := []float32{6, 12, 18}
	for i, v := range c {
		if v != want[i] {
			t.Errorf("c[%d] = %v, want %v", i, v, want[i])
		}
	}
}

func TestCastF16_Rounds(t *testing.T) {
	// 2049 is not representable in half precision (11 significand bits);
	// nearest representable value is 2048.
	a := New("a", []int{2}, []float32{2049, 1})
	h := CastF16(a)

	if h.DType() != F16 {
		t.Fatalf("dtype = %v, want F16", h.DType())
	}
	d := h.Data()
	if d[0] != 2048 {
		t.Errorf("2049 cast to f16 = %v, want 2048", d[0])
	}
	if d[1] != 1 {
		t.Errorf("1 cast to f16 = %v, want 1", d[1])
	}
}

func TestAddScaled_HalfKeepsHalfPrecision(t *testing.T) {
	a := CastF16(New("a", []int{1}, []float32{2048}))
	b := New("b", []int{1}, []float32{1})

	// 2048 + 1 rounds back to 2048 in half precision.
	c := AddScaled(a, b, 1)
	if c.DType() != F16 {
		t.Fatalf("dtype = %v, want F16", c.DType())
	}
	if got := c.Data()[0]; got != 2048 {
		t.Errorf("2048+1 in f16 = %v, want 2048", got)
	}
}

func TestUniform_BoundsAndSeed(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	u := Uniform("u", -0.25, 0.25, rng, 4, 8)

	for i, v := range u.Data() {
		if v < -0.25 || v >= 0.25 {
			t.Errorf("u[%d] = %v outside [-0.25, 0.25)", i, v)
		}
	}

	rng2 := rand.New(rand.NewSource(42))
	u2 := Uniform("u", -0.25, 0.25, rng2, 4, 8)
	for i, v := range u2.Data() {
		if v != u.Data()[i] {
			t.Fatal("same seed produced different draws")
		}
	}
}

func TestClone_Independent(t *testing.T) {
	a := New("a", []int{2}, []float32{1, 2})
	a.SetTrainable(true)

	c := a.Clone()
	c.Data()[0] = 99

	if a.Data()[0] != 1 {
		t.Error("clone shares storage with original")
	}
	if !c.Trainable() {
		t.Error("clone dropped trainable flag")
	}
}

func TestWords_U32(t *testing.T) {
	w := NewWords("q", []int{2, 2}, []uint32{1, 2, 3, 4})
	if w.DType() != U32 {
		t.Fatalf("dtype = %v, want U32", w.DType())
	}
	if len(w.Words()) != 4 {
		t.Errorf("len(Words) = %d, want 4", len(w.Words()))
	}
}

func TestScale_F16Rounds(t *testing.T) {
	a := CastF16(New("a", []int{1}, []float32{4096}))
	s := Scale(a, 0.50012) // exact product 2048.49; rounds to 2048 in f16
	if got := s.Data()[0]; math.Abs(float64(got-2048)) > 0.5 {
		t.Errorf("scaled f16 = %v, want ~2048", got)
	}
}
