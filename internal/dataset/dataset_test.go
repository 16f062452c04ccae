package dataset

import "testing"

func seqs(n, length int) [][]int {
	out := make([][]int, n)
	for i := range out {
		s := make([]int, length)
		for j := range s {
			s[j] = i*length + j
		}
		out[i] = s
	}
	return out
}

func TestNewTokenDataset_ShiftsByOne(t *testing.T) {
	d := NewTokenDataset([][]int{{10, 11, 12, 13}}, 1)
	if d.Len() != 1 {
		t.Fatalf("Len = %d, want 1", d.Len())
	}

	for b := range d.Batches(1, false) {
		if got := b.Inputs[0]; len(got) != 3 || got[0] != 10 || got[2] != 12 {
			t.Errorf("inputs = %v, want [10 11 12]", got)
		}
		if got := b.Targets[0]; got[0] != 11 || got[2] != 13 {
			t.Errorf("targets = %v, want [11 12 13]", got)
		}
		if b.Tokens != 3 {
			t.Errorf("tokens = %d, want 3", b.Tokens)
		}
	}
}

func TestNewTokenDataset_DropsDegenerate(t *testing.T) {
	d := NewTokenDataset([][]int{{1}, {}, {1, 2}}, 1)
	if d.Len() != 1 {
		t.Errorf("Len = %d, want 1 (single-token sequences carry no pair)", d.Len())
	}
}

func TestBatches_SequentialDropsRemainder(t *testing.T) {
	d := NewTokenDataset(seqs(10, 3), 1)

	count := 0
	for b := range d.Batches(4, false) {
		count++
		if len(b.Inputs) != 4 {
			t.Errorf("batch size = %d, want 4", len(b.Inputs))
		}
	}
	// 10 examples at batch size 4: two full batches, remainder dropped.
	if count != 2 {
		t.Errorf("batches = %d, want 2", count)
	}
}

func TestBatches_TrainRepeats(t *testing.T) {
	d := NewTokenDataset(seqs(4, 3), 7)

	count := 0
	for range d.Batches(2, true) {
		count++
		if count >= 10 {
			break
		}
	}
	// 4 examples at batch 2 is two batches per pass; ten pulls need five passes.
	if count != 10 {
		t.Errorf("pulled %d batches from infinite iteration", count)
	}
}

func TestBatches_TrainShuffles(t *testing.T) {
	d := NewTokenDataset(seqs(32, 2), 3)

	var first []int
	for b := range d.Batches(32, true) {
		first = make([]int, len(b.Inputs))
		for i, in := range b.Inputs {
			first[i] = in[0]
		}
		break
	}

	ordered := true
	for i := 1; i < len(first); i++ {
		if first[i] < first[i-1] {
			ordered = false
			break
		}
	}
	if ordered {
		t.Error("training batch came back in dataset order; expected a shuffle")
	}
}

func TestBatches_OversizedBatch(t *testing.T) {
	d := NewTokenDataset(seqs(2, 3), 1)
	for range d.Batches(5, false) {
		t.Fatal("yielded a batch larger than the dataset")
	}
}
