package tensor

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/float16"
)

// Ops build lazy results. Shapes are checked up front since dims are known
// without forcing anything; the arithmetic waits for Data or Eval.

// MatMul multiplies [m,k] by [k,n]. The result is F16 only when both inputs
// are, otherwise F32.
func MatMul(a, b *Tensor) *Tensor {
	if len(a.dims) != 2 || len(b.dims) != 2 || a.dims[1] != b.dims[0] {
		panic(fmt.Sprintf("matmul: incompatible dims %v x %v", a.dims, b.dims))
	}
	m, k, n := a.dims[0], a.dims[1], b.dims[1]
	dt := F32
	if a.dtype == F16 && b.dtype == F16 {
		dt = F16
	}
	return NewLazy("", []int{m, n}, dt, func() []float32 {
		ad, bd := a.Data(), b.Data()
		out := make([]float32, m*n)
		for i := 0; i < m; i++ {
			for p := 0; p < k; p++ {
				av := ad[i*k+p]
				if av == 0 {
					continue
				}
				row := bd[p*n:]
				for j := 0; j < n; j++ {
					out[i*n+j] += av * row[j]
				}
			}
		}
		if dt == F16 {
			roundF16(out)
		}
		return out
	})
}

// MatVec multiplies [m,n] by [n] giving [m].
func MatVec(a, x *Tensor) *Tensor {
	if len(a.dims) != 2 || len(x.dims) != 1 || a.dims[1] != x.dims[0] {
		panic(fmt.Sprintf("matvec: incompatible dims %v x %v", a.dims, x.dims))
	}
	m, n := a.dims[0], a.dims[1]
	return NewLazy("", []int{m}, F32, func() []float32 {
		ad, xd := a.Data(), x.Data()
		out := make([]float32, m)
		for i := 0; i < m; i++ {
			var sum float32
			row := ad[i*n : (i+1)*n]
			for j, v := range row {
				sum += v * xd[j]
			}
			out[i] = sum
		}
		return out
	})
}

// VecMat multiplies [n] by [n,r] giving [r].
func VecMat(x, a *Tensor) *Tensor {
	if len(x.dims) != 1 || len(a.dims) != 2 || x.dims[0] != a.dims[0] {
		panic(fmt.Sprintf("vecmat: incompatible dims %v x %v", x.dims, a.dims))
	}
	n, r := a.dims[0], a.dims[1]
	return NewLazy("", []int{r}, F32, func() []float32 {
		xd, ad := x.Data(), a.Data()
		out := make([]float32, r)
		for i := 0; i < n; i++ {
			xv := xd[i]
			if xv == 0 {
				continue
			}
			row := ad[i*r:]
			for j := 0; j < r; j++ {
				out[j] += xv * row[j]
			}
		}
		return out
	})
}

func Transpose(a *Tensor) *Tensor {
	if len(a.dims) != 2 {
		panic(fmt.Sprintf("transpose: need 2 dims, have %v", a.dims))
	}
	m, n := a.dims[0], a.dims[1]
	return NewLazy("", []int{n, m}, a.dtype, func() []float32 {
		ad := a.Data()
		out := make([]float32, m*n)
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				out[j*m+i] = ad[i*n+j]
			}
		}
		return out
	})
}

func Add(a, b *Tensor) *Tensor {
	return AddScaled(a, b, 1)
}

// AddScaled computes a + s*b elementwise. The result keeps a's dtype, so
// adding into a half tensor rounds through half precision.
func AddScaled(a, b *Tensor, s float32) *Tensor {
	if !sameDims(a.dims, b.dims) {
		panic(fmt.Sprintf("add: mismatched dims %v vs %v", a.dims, b.dims))
	}
	return NewLazy("", a.dims, a.dtype, func() []float32 {
		ad, bd := a.Data(), b.Data()
		out := make([]float32, len(ad))
		for i := range ad {
			out[i] = ad[i] + s*bd[i]
		}
		if a.dtype == F16 {
			roundF16(out)
		}
		return out
	})
}

func Scale(a *Tensor, s float32) *Tensor {
	return NewLazy("", a.dims, a.dtype, func() []float32 {
		ad := a.Data()
		out := make([]float32, len(ad))
		for i := range ad {
			out[i] = s * ad[i]
		}
		if a.dtype == F16 {
			roundF16(out)
		}
		return out
	})
}

// CastF16 rounds every element through IEEE half precision and tags the
// result F16. Values are stored widened; the rounding is the observable
// effect of the cast.
func CastF16(a *Tensor) *Tensor {
	return NewLazy(a.name, a.dims, F16, func() []float32 {
		ad := a.Data()
		out := append([]float32(nil), ad...)
		roundF16(out)
		return out
	})
}

// CastLike converts a to the dtype of ref. Only float dtypes participate.
func CastLike(a *Tensor, ref *Tensor) *Tensor {
	if ref.dtype == F16 {
		return CastF16(a)
	}
	if a.dtype == F32 {
		return a
	}
	return NewLazy(a.name, a.dims, F32, func() []float32 {
		return append([]float32(nil), a.Data()...)
	})
}

func roundF16(vals []float32) {
	for i, v := range vals {
		vals[i] = float16.New(v).Float32()
	}
}

func sameDims(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
