package lora

import (
	"math"
	"math/rand"
	"testing"

	"github.com/ivanfioravanti/SiLLM/internal/nn"
	"github.com/ivanfioravanti/SiLLM/internal/quant"
	"github.com/ivanfioravanti/SiLLM/internal/tensor"
)

func randLinear(t *testing.T, out, in int, seed int64) *nn.Linear {
	t.Helper()
	r := rand.New(rand.NewSource(seed))
	data := make([]float32, out*in)
	for i := range data {
		data[i] = float32(r.NormFloat64() * 0.1)
	}
	return nn.NewLinear(tensor.New("weight", []int{out, in}, data), nil)
}

func randVec(n int, seed int64) *tensor.Tensor {
	r := rand.New(rand.NewSource(seed))
	return tensor.Uniform("x", -1, 1, r, n)
}

func TestFromLinear_FreshAdapterIsNoOp(t *testing.T) {
	Seed(1)
	base := randLinear(t, 6, 4, 2)
	a, err := FromLinear(base, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	x := randVec(4, 3)
	want := base.Forward(x).Data()
	got := a.Forward(x).Data()

	// B starts at zero, so the correction vanishes identically.
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fresh adapter changed output at %d: %v vs %v", i, got[i], want[i])
		}
	}
}

func TestFromLinear_InitRanges(t *testing.T) {
	Seed(7)
	base := randLinear(t, 3, 16, 1)
	a, err := FromLinear(base, Config{Rank: 4, Alpha: 16, Scale: 10})
	if err != nil {
		t.Fatal(err)
	}

	bound := 1 / math.Sqrt(16)
	for i, v := range a.Params()["lora_a"].Data() {
		if float64(v) < -bound || float64(v) >= bound {
			t.Errorf("lora_a[%d] = %v outside +-%v", i, v, bound)
		}
	}
	for i, v := range a.Params()["lora_b"].Data() {
		if v != 0 {
			t.Errorf("lora_b[%d] = %v, want 0", i, v)
		}
	}

	dims := a.Params()["lora_a"].Dims()
	if dims[0] != 16 || dims[1] != 4 {
		t.Errorf("lora_a dims = %v, want [16 4]", dims)
	}
	if a.Size() != 16*4+4*3 {
		t.Errorf("Size = %d, want %d", a.Size(), 16*4+4*3)
	}

	// scale folds alpha/rank on top of the base scale
	if a.Scale() != 40 {
		t.Errorf("scale = %v, want 10*16/4 = 40", a.Scale())
	}
}

func TestFromLinear_SeedDeterminism(t *testing.T) {
	base := randLinear(t, 4, 8, 5)

	Seed(99)
	a1, _ := FromLinear(base, DefaultConfig())
	Seed(99)
	a2, _ := FromLinear(base, DefaultConfig())

	d1, d2 := a1.Params()["lora_a"].Data(), a2.Params()["lora_a"].Data()
	for i := range d1 {
		if d1[i] != d2[i] {
			t.Fatal("same seed produced different adapter init")
		}
	}
}

func TestAdapter_TrainableParams(t *testing.T) {
	Seed(2)
	base := randLinear(t, 4, 4, 8)
	nn.Freeze(base)
	a, _ := FromLinear(base, DefaultConfig())
	nn.AssignPaths(a)

	tp := nn.TrainableParameters(a)
	if len(tp) != 2 {
		t.Fatalf("trainable params = %v, want lora_a and lora_b", nn.SortedKeys(tp))
	}
	if _, ok := tp["lora_a"]; !ok {
		t.Error("lora_a not trainable")
	}

	// The base weight flattens under the adapter's linear child.
	all := nn.Parameters(a)
	if _, ok := all["linear.weight"]; !ok {
		t.Errorf("base weight key missing, have %v", nn.SortedKeys(all))
	}
}

func TestMerge_MatchesAdapterForward(t *testing.T) {
	Seed(4)
	base := randLinear(t, 8, 8, 9)
	a, err := FromLinear(base, Config{Rank: 4, Alpha: 8, Scale: 2})
	if err != nil {
		t.Fatal(err)
	}

	// Give B real values so the correction is nonzero.
	r := rand.New(rand.NewSource(10))
	bd := a.Params()["lora_b"].Data()
	for i := range bd {
		bd[i] = float32(r.NormFloat64() * 0.2)
	}

	x := randVec(8, 11)
	want := a.Forward(x).Data()

	merged, err := a.Merge()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := merged.(*nn.Linear); !ok {
		t.Fatalf("merged plain base came back as %T", merged)
	}
	got := merged.Forward(x).Data()

	for i := range want {
		if diff := math.Abs(float64(got[i] - want[i])); diff > 1e-4 {
			t.Errorf("merged output differs at %d: %v vs %v", i, got[i], want[i])
		}
	}
}

func TestMerge_QuantizedBaseRequantizes(t *testing.T) {
	Seed(6)
	cfg := quant.Config{GroupSize: 32, Bits: 8}
	q, err := nn.Quantize(randLinear(t, 8, 32, 12), cfg)
	if err != nil {
		t.Fatal(err)
	}

	a, err := FromLinear(q, Config{Rank: 2, Alpha: 4, Scale: 1})
	if err != nil {
		t.Fatal(err)
	}
	bd := a.Params()["lora_b"].Data()
	r := rand.New(rand.NewSource(13))
	for i := range bd {
		bd[i] = float32(r.NormFloat64() * 0.1)
	}

	x := randVec(32, 14)
	want := a.Forward(x).Data()

	merged, err := a.Merge()
	if err != nil {
		t.Fatal(err)
	}
	mq, ok := merged.(*nn.QuantizedLinear)
	if !ok {
		t.Fatalf("merged quantized base came back as %T", merged)
	}
	if mq.Config() != cfg {
		t.Errorf("merged config = %+v, want %+v", mq.Config(), cfg)
	}

	got := merged.Forward(x).Data()
	for i := range want {
		if diff := math.Abs(float64(got[i] - want[i])); diff > 0.15 {
			t.Errorf("requantized output differs at %d: %v vs %v", i, got[i], want[i])
		}
	}
}

func TestFromLinear_QuantizedWidths(t *testing.T) {
	Seed(3)
	q, err := nn.Quantize(randLinear(t, 8, 64, 15), quant.Config{GroupSize: 32, Bits: 4})
	if err != nil {
		t.Fatal(err)
	}

	a, err := FromLinear(q, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	// Logical width, not the packed word count.
	if dims := a.Params()["lora_a"].Dims(); dims[0] != 64 {
		t.Errorf("lora_a rows = %d, want logical input width 64", dims[0])
	}
}

func TestFromLinear_RejectsNestedAdapter(t *testing.T) {
	Seed(8)
	base := randLinear(t, 4, 4, 16)
	a, _ := FromLinear(base, DefaultConfig())

	if _, err := FromLinear(a, DefaultConfig()); err == nil {
		t.Error("adapting an adapter should fail")
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := (Config{Rank: 0, Alpha: 16, Scale: 10}).Validate(); err == nil {
		t.Error("rank 0 accepted")
	}
	if err := (Config{Rank: 8, Alpha: 16, Dropout: 1, Scale: 10}).Validate(); err == nil {
		t.Error("dropout 1 accepted")
	}
}
