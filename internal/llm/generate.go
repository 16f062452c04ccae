package llm

import (
	"iter"
	"math"
	"math/rand"
	"time"

	"github.com/ivanfioravanti/SiLLM/internal/engine"
	"github.com/ivanfioravanti/SiLLM/internal/logger"
	"github.com/ivanfioravanti/SiLLM/internal/metrics"
)

// Stats accumulates over a generation call; every yielded value carries
// the totals measured from the start of the call.
type Stats struct {
	Runtime   time.Duration
	NumTokens int
}

type GenerateOptions struct {
	// Temperature zero selects the argmax token; anything else samples
	// from logits scaled by 1/Temperature.
	Temperature float64
	MaxTokens   int
	// FlushEvery sets how many tokens accumulate before a chunk is
	// decoded and yielded.
	FlushEvery int
	// Seed fixes the sampling stream; zero seeds from the clock.
	Seed int64
}

func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{Temperature: 0, MaxTokens: 2048, FlushEvery: 5}
}

// Generate yields decoded text chunks until MaxTokens tokens have been
// produced or the model emits end-of-sequence. The final yield always
// happens, even with an empty remainder, so callers see the closing
// stats.
func (l *LLM) Generate(prompt string, opts GenerateOptions) iter.Seq2[string, Stats] {
	return func(yield func(string, Stats) bool) {
		start := time.Now()
		tokens := l.tok.Encode(prompt)

		var rng *rand.Rand
		if opts.Temperature != 0 {
			seed := opts.Seed
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			rng = rand.New(rand.NewSource(seed))
		}

		var (
			cache   engine.Cache
			buffer  []int
			stats   Stats
			emitted bool
		)
		// Chunks decode independently, so word boundaries between flushes
		// need an explicit separator.
		decode := func(ids []int) string {
			chunk := l.tok.Decode(ids)
			if chunk == "" {
				return ""
			}
			if emitted {
				chunk = " " + chunk
			}
			emitted = true
			return chunk
		}

		for n := 0; n < opts.MaxTokens; n++ {
			logits, next, err := l.eng.Forward(l.model, tokens, cache)
			if err != nil {
				logger.Log.Error("generation step failed", "error", err)
				break
			}
			cache = next

			tok := sample(logits.Data(), opts.Temperature, rng)
			if tok == l.tok.EOSID() {
				break
			}
			tokens = append(tokens, tok)
			buffer = append(buffer, tok)

			if len(buffer) >= opts.FlushEvery {
				stats.NumTokens += len(buffer)
				stats.Runtime = time.Since(start)
				if !yield(decode(buffer), stats) {
					metrics.RecordGeneration(stats.NumTokens, opts.Temperature, stats.Runtime)
					return
				}
				buffer = buffer[:0]
			}
		}

		stats.NumTokens += len(buffer)
		stats.Runtime = time.Since(start)
		metrics.RecordGeneration(stats.NumTokens, opts.Temperature, stats.Runtime)
		yield(decode(buffer), stats)
	}
}

func sample(logits []float32, temperature float64, rng *rand.Rand) int {
	if temperature == 0 {
		best := 0
		for i, v := range logits {
			if v > logits[best] {
				best = i
			}
		}
		return best
	}

	// Categorical draw from softmax(logits / temperature).
	max := math.Inf(-1)
	for _, v := range logits {
		if s := float64(v) / temperature; s > max {
			max = s
		}
	}
	probs := make([]float64, len(logits))
	total := 0.0
	for i, v := range logits {
		probs[i] = math.Exp(float64(v)/temperature - max)
		total += probs[i]
	}
	r := rng.Float64() * total
	for i, p := range probs {
		r -= p
		if r <= 0 {
			return i
		}
	}
	return len(logits) - 1
}
