package tokenizer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestVocab_EncodeDecode(t *testing.T) {
	v := NewVocab([]string{"the", "quick", "fox"})

	ids := v.Encode("the quick fox")
	if ids[0] != v.BOSID() {
		t.Errorf("encoding does not start with bos: %v", ids)
	}
	if len(ids) != 4 {
		t.Fatalf("ids = %v, want bos + 3 words", ids)
	}

	if got := v.Decode(ids); got != "the quick fox" {
		t.Errorf("Decode = %q", got)
	}
}

func TestVocab_UnknownWords(t *testing.T) {
	v := NewVocab([]string{"known"})

	ids := v.Encode("known stranger")
	if ids[2] != unkID {
		t.Errorf("unknown word mapped to %d, want unk", ids[2])
	}
	// Specials and out-of-range ids vanish on decode.
	if got := v.Decode([]int{v.EOSID(), ids[1], 9999}); got != "known" {
		t.Errorf("Decode = %q, want %q", got, "known")
	}
}

func TestVocab_SpecialIDs(t *testing.T) {
	v := NewVocab([]string{"a"})
	if v.EOSID() != 2 || v.BOSID() != 1 {
		t.Errorf("special ids = bos %d eos %d, want 1 and 2", v.BOSID(), v.EOSID())
	}
	if v.Size() != 4 {
		t.Errorf("Size = %d, want 3 specials + 1 word", v.Size())
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	if err := os.WriteFile(path, []byte("alpha\nbeta\n\ngamma\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	v, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if v.Size() != 6 {
		t.Errorf("Size = %d, want 3 specials + 3 words", v.Size())
	}
	if got := v.Decode(v.Encode("beta gamma")); got != "beta gamma" {
		t.Errorf("round trip = %q", got)
	}
}
