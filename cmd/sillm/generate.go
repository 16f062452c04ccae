package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ivanfioravanti/SiLLM/internal/llm"
)

var (
	genModelDir   string
	genPrompt     string
	genTemp       float64
	genMaxTokens  int
	genFlushEvery int
	genSeed       int64
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Stream a completion for a prompt",
	RunE:  runGenerate,
}

func init() {
	f := generateCmd.Flags()
	f.StringVarP(&genModelDir, "model", "m", "", "model directory")
	f.StringVarP(&genPrompt, "prompt", "p", "", "prompt text")
	f.Float64VarP(&genTemp, "temperature", "t", 0, "sampling temperature, 0 picks the argmax")
	f.IntVarP(&genMaxTokens, "max-tokens", "n", 256, "generation cap in tokens")
	f.IntVar(&genFlushEvery, "flush-every", 5, "tokens buffered between output flushes")
	f.Int64Var(&genSeed, "seed", 0, "sampling seed, 0 seeds from the clock")
	generateCmd.MarkFlagRequired("model")
	generateCmd.MarkFlagRequired("prompt")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	l, err := loadModel(genModelDir)
	if err != nil {
		return err
	}

	opts := llm.DefaultGenerateOptions()
	opts.Temperature = genTemp
	opts.MaxTokens = genMaxTokens
	opts.FlushEvery = genFlushEvery
	opts.Seed = genSeed

	var last llm.Stats
	for chunk, stats := range l.Generate(genPrompt, opts) {
		fmt.Print(chunk)
		last = stats
	}
	fmt.Println()

	rate := float64(last.NumTokens) / last.Runtime.Seconds()
	color.New(color.FgCyan).Fprintf(os.Stderr, "%d tokens in %s (%.1f tok/s)\n",
		last.NumTokens, last.Runtime.Round(time.Millisecond), rate)
	return nil
}
