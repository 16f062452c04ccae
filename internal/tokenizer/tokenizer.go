package tokenizer

import (
	"fmt"
	"os"
	"strings"
)

// Tokenizer converts between text and token ids. Real subword
// tokenization is out of scope here; the model wrapper only needs encode,
// decode and the end-of-sequence id.
type Tokenizer interface {
	Encode(text string) []int
	Decode(ids []int) string
	EOSID() int
}

const (
	unkID = 0
	bosID = 1
	eosID = 2
)

var specials = []string{"<unk>", "<s>", "</s>"}

// Vocab is a word-level tokenizer over a fixed vocabulary, with
// llama-style special ids: unk 0, bos 1, eos 2.
type Vocab struct {
	tokens []string
	ids    map[string]int
}

func NewVocab(words []string) *Vocab {
	v := &Vocab{
		tokens: make([]string, 0, len(words)+len(specials)),
		ids:    make(map[string]int, len(words)+len(specials)),
	}
	for _, w := range append(append([]string(nil), specials...), words...) {
		if _, ok := v.ids[w]; ok {
			continue
		}
		v.ids[w] = len(v.tokens)
		v.tokens = append(v.tokens, w)
	}
	return v
}

// Load reads a vocabulary file, one token per line.
func Load(path string) (*Vocab, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	var words []string
	for _, line := range strings.Split(string(b), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			words = append(words, line)
		}
	}
	return NewVocab(words), nil
}

func (v *Vocab) Size() int  { return len(v.tokens) }
func (v *Vocab) EOSID() int { return eosID }
func (v *Vocab) BOSID() int { return bosID }

func (v *Vocab) Encode(text string) []int {
	words := strings.Fields(text)
	ids := make([]int, 0, len(words)+1)
	ids = append(ids, bosID)
	for _, w := range words {
		if id, ok := v.ids[w]; ok {
			ids = append(ids, id)
		} else {
			ids = append(ids, unkID)
		}
	}
	return ids
}

func (v *Vocab) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		if id < len(specials) || id >= len(v.tokens) {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(v.tokens[id])
	}
	return sb.String()
}
