package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ivanfioravanti/SiLLM/internal/config"
	"github.com/ivanfioravanti/SiLLM/internal/dataset"
	"github.com/ivanfioravanti/SiLLM/internal/logger"
	"github.com/ivanfioravanti/SiLLM/internal/lora"
	"github.com/ivanfioravanti/SiLLM/internal/train"
)

var (
	trainModelDir string
	trainCfgPath  string
	trainData     string
	valData       string
	adaptersOut   string
	resumePath    string
	mergeOut      string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fine-tune a model with LoRA adapters",
	RunE:  runTrain,
}

func init() {
	f := trainCmd.Flags()
	f.StringVarP(&trainModelDir, "model", "m", "", "model directory")
	f.StringVarP(&trainCfgPath, "config", "c", "", "training config (yaml, toml or json); defaults apply when omitted")
	f.StringVar(&trainData, "train-data", "", "training text, one example per line")
	f.StringVar(&valData, "val-data", "", "validation text; the training file is reused when omitted")
	f.StringVar(&adaptersOut, "adapters", "", "write the trained adapters to this archive")
	f.StringVar(&resumePath, "resume", "", "load adapters from this archive before training")
	f.StringVar(&mergeOut, "merge", "", "fold adapters into the base weights and write the model directory here")
	trainCmd.MarkFlagRequired("model")
	trainCmd.MarkFlagRequired("train-data")
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultTrainConfig()
	if trainCfgPath != "" {
		var err error
		if cfg, err = config.LoadTrainConfig(trainCfgPath); err != nil {
			return err
		}
	}
	if cfg.Seed != 0 {
		lora.Seed(cfg.Seed)
	}

	l, err := loadModel(trainModelDir)
	if err != nil {
		return err
	}
	tr := train.FromLLM(l)
	tr.SetCheckpointFormat(cfg.CheckpointFormat)

	lcfg := lora.Config{
		Rank:    cfg.LoraRank,
		Alpha:   cfg.LoraAlpha,
		Dropout: cfg.LoraDropout,
		Scale:   cfg.LoraScale,
	}
	if err := tr.InitLoRA(cfg.LoraLayers, cfg.TargetModules, lcfg); err != nil {
		return err
	}
	if resumePath != "" {
		if err := tr.LoadAdapters(resumePath); err != nil {
			return err
		}
		logger.Log.Info("resumed adapters", "path", resumePath)
	}

	tok := l.Tokenizer()
	training, err := loadDataset(trainData, tok, cfg.Seed)
	if err != nil {
		return err
	}
	validation := dataset.Dataset(training)
	if valData != "" {
		if validation, err = loadDataset(valData, tok, cfg.Seed); err != nil {
			return err
		}
	} else {
		logger.Log.Warn("no validation data given, reusing the training set")
	}

	var cb train.EvalCallback
	if cfg.CheckpointDir != "" {
		cb = func(step int, loss float64) train.EvalResult {
			path, err := tr.SaveCheckpoint(cfg.CheckpointDir, step)
			if err != nil {
				logger.Log.Error("checkpoint failed", "error", err)
				return train.EvalResult{}
			}
			return train.EvalResult{Message: "saved checkpoint " + path}
		}
	}

	if err := tr.Train(training, validation, cfg, cb); err != nil {
		return err
	}
	if cfg.CheckpointDir != "" {
		if _, err := tr.SaveCheckpoint(cfg.CheckpointDir, -1); err != nil {
			return err
		}
	}

	if adaptersOut != "" {
		if err := tr.SaveAdapters(adaptersOut); err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("adapters written to %s\n", adaptersOut)
	}
	if mergeOut != "" {
		if err := tr.MergeAndUnloadLoRA(); err != nil {
			return err
		}
		if err := writeModelDir(mergeOut, trainModelDir, l); err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("merged model written to %s\n", mergeOut)
	}
	return nil
}
