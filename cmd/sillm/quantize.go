package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	quantModelDir string
	quantOut      string
	quantBits     int
	quantGroup    int
	quantExclude  []string

	dequantModelDir string
	dequantOut      string
)

var quantizeCmd = &cobra.Command{
	Use:   "quantize",
	Short: "Convert linear weights to packed group-quantized storage",
	RunE:  runQuantize,
}

var dequantizeCmd = &cobra.Command{
	Use:   "dequantize",
	Short: "Rebuild full-precision weights from a quantized model",
	RunE:  runDequantize,
}

func init() {
	f := quantizeCmd.Flags()
	f.StringVarP(&quantModelDir, "model", "m", "", "model directory")
	f.StringVarP(&quantOut, "output", "o", "", "output model directory")
	f.IntVarP(&quantBits, "bits", "b", 4, "bits per weight (2, 4 or 8)")
	f.IntVarP(&quantGroup, "group-size", "g", 64, "values per quantization group (32, 64 or 128)")
	f.StringSliceVar(&quantExclude, "exclude", nil, "layer paths kept at full precision")
	quantizeCmd.MarkFlagRequired("model")
	quantizeCmd.MarkFlagRequired("output")

	d := dequantizeCmd.Flags()
	d.StringVarP(&dequantModelDir, "model", "m", "", "quantized model directory")
	d.StringVarP(&dequantOut, "output", "o", "", "output model directory")
	dequantizeCmd.MarkFlagRequired("model")
	dequantizeCmd.MarkFlagRequired("output")
}

func runQuantize(cmd *cobra.Command, args []string) error {
	l, err := loadModel(quantModelDir)
	if err != nil {
		return err
	}
	if err := l.Quantize(quantGroup, quantBits, quantExclude); err != nil {
		return err
	}
	if err := writeModelDir(quantOut, quantModelDir, l); err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("%d-bit model written to %s\n", quantBits, quantOut)
	return nil
}

func runDequantize(cmd *cobra.Command, args []string) error {
	l, err := loadModel(dequantModelDir)
	if err != nil {
		return err
	}
	if err := l.Dequantize(); err != nil {
		return err
	}
	if err := writeModelDir(dequantOut, dequantModelDir, l); err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("dequantized model written to %s\n", dequantOut)
	return nil
}
