// Package dataset defines the batch shape consumed by training and a
// minimal in-memory implementation. Anything fancier (files, streaming,
// packing) belongs to the caller.
package dataset

import (
	"iter"
	"math/rand"
)

// Batch is one optimization step's worth of examples. Rows may be ragged;
// Tokens counts the target positions across the batch.
type Batch struct {
	Inputs  [][]int
	Targets [][]int
	Tokens  int
}

// Dataset yields batches. With train set, iteration shuffles and repeats
// indefinitely; otherwise it makes a single sequential pass, dropping the
// trailing partial batch.
type Dataset interface {
	Len() int
	Batches(batchSize int, train bool) iter.Seq[Batch]
}

type example struct {
	inputs  []int
	targets []int
}

// TokenDataset holds pre-tokenized sequences. Each sequence becomes one
// example predicting its own next token: inputs seq[:n-1], targets seq[1:].
type TokenDataset struct {
	examples []example
	rng      *rand.Rand
}

func NewTokenDataset(seqs [][]int, seed int64) *TokenDataset {
	d := &TokenDataset{rng: rand.New(rand.NewSource(seed))}
	for _, seq := range seqs {
		if len(seq) < 2 {
			continue
		}
		d.examples = append(d.examples, example{
			inputs:  seq[:len(seq)-1],
			targets: seq[1:],
		})
	}
	return d
}

func (d *TokenDataset) Len() int {
	return len(d.examples)
}

func (d *TokenDataset) Batches(batchSize int, train bool) iter.Seq[Batch] {
	return func(yield func(Batch) bool) {
		if batchSize <= 0 || batchSize > len(d.examples) {
			return
		}
		if !train {
			for start := 0; start+batchSize <= len(d.examples); start += batchSize {
				idx := make([]int, batchSize)
				for i := range idx {
					idx[i] = start + i
				}
				if !yield(d.batch(idx)) {
					return
				}
			}
			return
		}
		for {
			order := d.rng.Perm(len(d.examples))
			for start := 0; start+batchSize <= len(order); start += batchSize {
				if !yield(d.batch(order[start : start+batchSize])) {
					return
				}
			}
		}
	}
}

func (d *TokenDataset) batch(idx []int) Batch {
	b := Batch{
		Inputs:  make([][]int, len(idx)),
		Targets: make([][]int, len(idx)),
	}
	for i, j := range idx {
		b.Inputs[i] = d.examples[j].inputs
		b.Targets[i] = d.examples[j].targets
		b.Tokens += len(d.examples[j].targets)
	}
	return b
}
