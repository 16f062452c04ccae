package train

import (
	"errors"
	"iter"
	"math"
	"strings"
	"testing"

	"github.com/ivanfioravanti/SiLLM/internal/config"
	"github.com/ivanfioravanti/SiLLM/internal/dataset"
	"github.com/ivanfioravanti/SiLLM/internal/engine"
	"github.com/ivanfioravanti/SiLLM/internal/llm"
	"github.com/ivanfioravanti/SiLLM/internal/lora"
	"github.com/ivanfioravanti/SiLLM/internal/model"
	"github.com/ivanfioravanti/SiLLM/internal/tensor"
	"github.com/ivanfioravanti/SiLLM/internal/tokenizer"
)

// fakeEngine scripts Loss results and counts gradient steps, so loop
// mechanics can be asserted without real model numerics.
type fakeEngine struct {
	losses    []float64
	toks      []int
	lossCalls int
	gradCalls int
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Forward(m *model.Model, tokens []int, cache engine.Cache) (*tensor.Tensor, engine.Cache, error) {
	return nil, nil, errors.New("fake engine has no forward pass")
}

func (f *fakeEngine) Loss(m *model.Model, batch dataset.Batch) (float64, int, error) {
	i := f.lossCalls
	f.lossCalls++
	if len(f.losses) == 0 {
		return 1.0, batch.Tokens, nil
	}
	return f.losses[i%len(f.losses)], f.toks[i%len(f.toks)], nil
}

func (f *fakeEngine) ValueAndGrad(m *model.Model) engine.GradFunc {
	return func(batch dataset.Batch) (float64, int, map[string]*tensor.Tensor, error) {
		f.gradCalls++
		return 1.0, batch.Tokens, map[string]*tensor.Tensor{}, nil
	}
}

// fakeDataset replays fixed batches; with cycle set it repeats them
// indefinitely the way a shuffling training set would.
type fakeDataset struct {
	n       int
	batches []dataset.Batch
	cycle   bool
}

func (d *fakeDataset) Len() int { return d.n }

func (d *fakeDataset) Batches(batchSize int, train bool) iter.Seq[dataset.Batch] {
	return func(yield func(dataset.Batch) bool) {
		for {
			for _, b := range d.batches {
				if !yield(b) {
					return
				}
			}
			if !d.cycle {
				return
			}
		}
	}
}

func newFakeTrainable(t *testing.T, eng engine.Engine) *TrainableLLM {
	t.Helper()
	model.Seed(20)
	l, err := llm.New(testArgs(), tokenizer.NewVocab([]string{"hello", "world", "again"}), eng)
	if err != nil {
		t.Fatalf("llm: %v", err)
	}
	return FromLLM(l)
}

func testTrainConfig() config.TrainConfig {
	cfg := config.DefaultTrainConfig()
	cfg.BatchSize = 4
	cfg.ValidationSamples = 0
	return cfg
}

func TestEvaluateTokenWeighted(t *testing.T) {
	eng := &fakeEngine{losses: []float64{2.0, 3.0}, toks: []int{10, 20}}
	tr := newFakeTrainable(t, eng)
	ds := &fakeDataset{n: 2, batches: []dataset.Batch{{Tokens: 10}, {Tokens: 20}}}

	got, err := tr.Evaluate(ds, 1, 2)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// (2.0*10 + 3.0*20) / 30 = 2.667: the larger batch dominates.
	want := 80.0 / 30.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("Evaluate = %v, want %v", got, want)
	}
}

func TestEvaluateCapsBatches(t *testing.T) {
	eng := &fakeEngine{losses: []float64{1.0, 5.0, 5.0}, toks: []int{10, 10, 10}}
	tr := newFakeTrainable(t, eng)
	ds := &fakeDataset{n: 3, batches: []dataset.Batch{{Tokens: 10}, {Tokens: 10}, {Tokens: 10}}}

	got, err := tr.Evaluate(ds, 1, 1)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got != 1.0 {
		t.Fatalf("Evaluate = %v, want 1.0", got)
	}
	if eng.lossCalls != 1 {
		t.Fatalf("loss calls = %d, want 1", eng.lossCalls)
	}
}

func TestEvaluateEmptyDataset(t *testing.T) {
	tr := newFakeTrainable(t, &fakeEngine{})
	if _, err := tr.Evaluate(&fakeDataset{}, 4, 10); err == nil {
		t.Fatal("empty validation set accepted")
	}
}

func TestTrainOnePassStepCount(t *testing.T) {
	eng := &fakeEngine{}
	tr := newFakeTrainable(t, eng)
	training := &fakeDataset{n: 100, cycle: true, batches: []dataset.Batch{{Tokens: 4}}}

	// Iterations zero means one pass: 100 examples / batch 4 = 25 steps.
	cfg := testTrainConfig()
	if err := tr.Train(training, &fakeDataset{}, cfg, nil); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if eng.gradCalls != 25 {
		t.Fatalf("gradient steps = %d, want 25", eng.gradCalls)
	}
}

func TestTrainEpochsMultiplySteps(t *testing.T) {
	eng := &fakeEngine{}
	tr := newFakeTrainable(t, eng)
	training := &fakeDataset{n: 100, cycle: true, batches: []dataset.Batch{{Tokens: 4}}}

	cfg := testTrainConfig()
	cfg.Epochs = 2
	cfg.Iterations = 3
	if err := tr.Train(training, &fakeDataset{}, cfg, nil); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if eng.gradCalls != 6 {
		t.Fatalf("gradient steps = %d, want 6", eng.gradCalls)
	}
}

func TestTrainEvalSchedule(t *testing.T) {
	eng := &fakeEngine{losses: []float64{3.0, 2.0, 1.0}, toks: []int{8, 8, 8}}
	tr := newFakeTrainable(t, eng)
	training := &fakeDataset{n: 40, cycle: true, batches: []dataset.Batch{{Tokens: 4}}}
	validation := &fakeDataset{n: 8, batches: []dataset.Batch{{Tokens: 8}}}

	cfg := testTrainConfig()
	cfg.Iterations = 10
	cfg.EvalSteps = 5
	cfg.ValidationSamples = 4

	var steps []int
	var losses []float64
	cb := func(step int, loss float64) EvalResult {
		steps = append(steps, step)
		losses = append(losses, loss)
		if step == 5 {
			return EvalResult{Message: "saved checkpoint"}
		}
		return EvalResult{}
	}
	if err := tr.Train(training, validation, cfg, cb); err != nil {
		t.Fatalf("Train: %v", err)
	}

	// Before the first step, then every five steps.
	wantSteps := []int{1, 5, 10}
	if len(steps) != len(wantSteps) {
		t.Fatalf("eval steps = %v, want %v", steps, wantSteps)
	}
	for i, s := range wantSteps {
		if steps[i] != s {
			t.Fatalf("eval steps = %v, want %v", steps, wantSteps)
		}
		if losses[i] != eng.losses[i] {
			t.Fatalf("eval losses = %v, want %v", losses, eng.losses)
		}
	}
}

func TestTrainNilCallback(t *testing.T) {
	eng := &fakeEngine{losses: []float64{2.0}, toks: []int{8}}
	tr := newFakeTrainable(t, eng)
	training := &fakeDataset{n: 8, cycle: true, batches: []dataset.Batch{{Tokens: 4}}}
	validation := &fakeDataset{n: 8, batches: []dataset.Batch{{Tokens: 8}}}

	cfg := testTrainConfig()
	cfg.Iterations = 2
	cfg.ValidationSamples = 4
	if err := tr.Train(training, validation, cfg, nil); err != nil {
		t.Fatalf("Train: %v", err)
	}
}

func TestTrainExhaustedBatches(t *testing.T) {
	tr := newFakeTrainable(t, &fakeEngine{})
	training := &fakeDataset{n: 8, batches: []dataset.Batch{{Tokens: 4}, {Tokens: 4}}}

	cfg := testTrainConfig()
	cfg.Iterations = 5
	err := tr.Train(training, &fakeDataset{}, cfg, nil)
	if err == nil || !strings.Contains(err.Error(), "exhausted") {
		t.Fatalf("error = %v, want batch exhaustion", err)
	}
}

func TestTrainNoCompleteBatch(t *testing.T) {
	tr := newFakeTrainable(t, &fakeEngine{})
	training := &fakeDataset{n: 3}

	cfg := testTrainConfig()
	if err := tr.Train(training, &fakeDataset{}, cfg, nil); err == nil {
		t.Fatal("dataset smaller than one batch accepted")
	}
}

func TestTrainRejectsInvalidConfig(t *testing.T) {
	tr := newFakeTrainable(t, &fakeEngine{})
	cfg := testTrainConfig()
	cfg.BatchSize = 0
	if err := tr.Train(&fakeDataset{n: 8}, &fakeDataset{}, cfg, nil); err == nil {
		t.Fatal("invalid config accepted")
	}
}

func TestTrainLossDecreases(t *testing.T) {
	model.Seed(21)
	lora.Seed(22)
	args := config.ModelArgs{
		ModelType: "llama",
		Dim:       4,
		NumLayers: 1,
		NumHeads:  2,
		HiddenDim: 8,
		VocabSize: 8,
	}
	args.ApplyDefaults()
	eng, err := engine.New("bigram")
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	l, err := llm.New(args, tokenizer.NewVocab([]string{"a", "b", "c"}), eng)
	if err != nil {
		t.Fatalf("llm: %v", err)
	}
	tr := FromLLM(l)
	if err := tr.InitLoRA(0, "all_linear", lora.Config{Rank: 4, Alpha: 8, Dropout: 0, Scale: 10}); err != nil {
		t.Fatalf("InitLoRA: %v", err)
	}

	// A fully deterministic bigram corpus: loss starts near log(8) and
	// must fall as the output adapter learns the transitions.
	seqs := make([][]int, 16)
	for i := range seqs {
		seqs[i] = []int{1, 3, 4, 5, 3, 4, 5, 2}
	}
	training := dataset.NewTokenDataset(seqs, 33)
	validation := dataset.NewTokenDataset(seqs[:8], 34)

	cfg := testTrainConfig()
	cfg.LearningRate = 0.05
	cfg.Iterations = 20
	cfg.EvalSteps = 10
	cfg.ValidationSamples = 8
	cfg.Debug = true

	var losses []float64
	cb := func(step int, loss float64) EvalResult {
		losses = append(losses, loss)
		return EvalResult{}
	}
	if err := tr.Train(training, validation, cfg, cb); err != nil {
		t.Fatalf("Train: %v", err)
	}

	if len(losses) != 3 {
		t.Fatalf("validation passes = %d, want 3", len(losses))
	}
	for i, v := range losses {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("validation loss %d not finite: %v", i, v)
		}
	}
	if losses[2] >= losses[0]-0.1 {
		t.Fatalf("validation loss did not fall: %v", losses)
	}
}
