// Package quant implements affine group quantization for linear weights.
// Each row is split into groups of GroupSize values; a group stores
// quantized levels q in [0, 2^Bits-1] packed little-end-first into uint32
// words, plus one scale and one bias, so that w ~= scale*q + bias.
package quant

import (
	"fmt"
	"math"
)

type Config struct {
	GroupSize int `json:"group_size" yaml:"group_size" toml:"group_size"`
	Bits      int `json:"bits" yaml:"bits" toml:"bits"`
}

func (c Config) Validate() error {
	switch c.Bits {
	case 2, 4, 8:
	default:
		return fmt.Errorf("quant: bits must be 2, 4 or 8, have %d", c.Bits)
	}
	switch c.GroupSize {
	case 32, 64, 128:
	default:
		return fmt.Errorf("quant: group size must be 32, 64 or 128, have %d", c.GroupSize)
	}
	return nil
}

// PackFactor is the number of quantized values held by one uint32 word.
func (c Config) PackFactor() int {
	return 32 / c.Bits
}

// Pack quantizes a row-major [rows, cols] weight matrix. It returns the
// packed words ([rows, cols/PackFactor]), scales and biases (both
// [rows, cols/GroupSize]).
func Pack(w []float32, rows, cols int, c Config) (words []uint32, scales, biases []float32, err error) {
	if err := c.Validate(); err != nil {
		return nil, nil, nil, err
	}
	if len(w) != rows*cols {
		return nil, nil, nil, fmt.Errorf("quant: %d values for %dx%d matrix", len(w), rows, cols)
	}
	if cols%c.GroupSize != 0 {
		return nil, nil, nil, fmt.Errorf("quant: input width %d not divisible by group size %d", cols, c.GroupSize)
	}

	pf := c.PackFactor()
	levels := float64(int(1)<<c.Bits - 1)
	groups := cols / c.GroupSize
	words = make([]uint32, rows*cols/pf)
	scales = make([]float32, rows*groups)
	biases = make([]float32, rows*groups)

	for r := 0; r < rows; r++ {
		row := w[r*cols : (r+1)*cols]
		for g := 0; g < groups; g++ {
			grp := row[g*c.GroupSize : (g+1)*c.GroupSize]
			lo, hi := grp[0], grp[0]
			for _, v := range grp {
				if v < lo {
					lo = v
				}
				if v > hi {
					hi = v
				}
			}
			delta := (float64(hi) - float64(lo)) / levels
			if delta == 0 {
				delta = 1 // constant group, every level maps to lo
			}
			scales[r*groups+g] = float32(delta)
			biases[r*groups+g] = lo

			for i, v := range grp {
				q := int(math.Round((float64(v) - float64(lo)) / delta))
				if q < 0 {
					q = 0
				}
				if q > int(levels) {
					q = int(levels)
				}
				col := g*c.GroupSize + i
				word := r*(cols/pf) + col/pf
				shift := uint(col%pf) * uint(c.Bits)
				words[word] |= uint32(q) << shift
			}
		}
	}
	return words, scales, biases, nil
}

// Unpack reconstructs the row-major [rows, cols] float matrix from packed
// words and per-group scales and biases.
func Unpack(words []uint32, rows, cols int, scales, biases []float32, c Config) ([]float32, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	pf := c.PackFactor()
	if cols%c.GroupSize != 0 || cols%pf != 0 {
		return nil, fmt.Errorf("quant: input width %d incompatible with group size %d, bits %d", cols, c.GroupSize, c.Bits)
	}
	if len(words) != rows*cols/pf {
		return nil, fmt.Errorf("quant: %d words for %dx%d matrix at %d bits", len(words), rows, cols, c.Bits)
	}

	mask := uint32(1)<<c.Bits - 1
	groups := cols / c.GroupSize
	out := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		for col := 0; col < cols; col++ {
			word := words[r*(cols/pf)+col/pf]
			shift := uint(col%pf) * uint(c.Bits)
			q := float32(word >> shift & mask)

			g := r*groups + col/c.GroupSize
			out[r*cols+col] = scales[g]*q + biases[g]
		}
	}
	return out, nil
}
