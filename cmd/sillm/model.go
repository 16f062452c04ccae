package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ivanfioravanti/SiLLM/internal/config"
	"github.com/ivanfioravanti/SiLLM/internal/dataset"
	"github.com/ivanfioravanti/SiLLM/internal/engine"
	"github.com/ivanfioravanti/SiLLM/internal/llm"
	"github.com/ivanfioravanti/SiLLM/internal/logger"
	"github.com/ivanfioravanti/SiLLM/internal/tokenizer"
)

// weightsNames are the archive files probed inside a model directory,
// in preference order.
var weightsNames = []string{"model.safetensors", "model.npz"}

// loadModel assembles an LLM from a model directory and fills it from
// the weights archive found there.
func loadModel(dir string) (*llm.LLM, error) {
	args, err := config.LoadModelArgs(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, err
	}
	tok, err := tokenizer.Load(filepath.Join(dir, "vocab.txt"))
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(engineName)
	if err != nil {
		return nil, err
	}
	l, err := llm.New(args, tok, eng)
	if err != nil {
		return nil, err
	}
	for _, name := range weightsNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		logger.Log.Info("loading weights", "path", path)
		if err := l.LoadWeights(path); err != nil {
			return nil, err
		}
		return l, nil
	}
	return nil, fmt.Errorf("no weights archive in %s (want one of %s)", dir, strings.Join(weightsNames, ", "))
}

// writeModelDir writes the converted model next to a copy of the source
// vocabulary, so the output directory loads standalone.
func writeModelDir(dir, srcDir string, l *llm.LLM) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := config.SaveModelArgs(filepath.Join(dir, "config.json"), l.Args()); err != nil {
		return err
	}
	vocab, err := os.ReadFile(filepath.Join(srcDir, "vocab.txt"))
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "vocab.txt"), vocab, 0o644); err != nil {
		return err
	}
	return l.SaveWeights(filepath.Join(dir, "model.safetensors"))
}

// loadDataset tokenizes a text file with one training example per line.
// Every sequence gets a closing EOS so the model learns to stop.
func loadDataset(path string, tok *tokenizer.Vocab, seed int64) (*dataset.TokenDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	var seqs [][]int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		seqs = append(seqs, append(tok.Encode(line), tok.EOSID()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	ds := dataset.NewTokenDataset(seqs, seed)
	if ds.Len() == 0 {
		return nil, fmt.Errorf("no usable examples in %s", path)
	}
	logger.Log.Info("loaded dataset", "path", path, "examples", ds.Len())
	return ds, nil
}
