package train

import (
	"fmt"
	"iter"
	"time"

	"github.com/ivanfioravanti/SiLLM/internal/config"
	"github.com/ivanfioravanti/SiLLM/internal/dataset"
	"github.com/ivanfioravanti/SiLLM/internal/logger"
	"github.com/ivanfioravanti/SiLLM/internal/metrics"
	"github.com/ivanfioravanti/SiLLM/internal/nn"
	"github.com/ivanfioravanti/SiLLM/internal/tensor"
)

// EvalResult is returned by an EvalCallback; a non-empty Message is
// surfaced alongside the validation report.
type EvalResult struct {
	Message string
}

// EvalCallback runs after each validation pass with the step number
// about to execute and the validation loss.
type EvalCallback func(step int, loss float64) EvalResult

// Evaluate computes the token-weighted mean loss over up to numBatches
// batches. Short batches count in proportion to their token count.
func (t *TrainableLLM) Evaluate(ds dataset.Dataset, batchSize, numBatches int) (float64, error) {
	var (
		lossSum float64
		tokens  int
		batches int
	)
	for batch := range ds.Batches(batchSize, false) {
		if batches >= numBatches {
			break
		}
		loss, toks, err := t.Engine().Loss(t.Model(), batch)
		if err != nil {
			return 0, err
		}
		lossSum += loss * float64(toks)
		tokens += toks
		batches++
	}
	if tokens == 0 {
		return 0, fmt.Errorf("evaluation saw no tokens")
	}
	return lossSum / float64(tokens), nil
}

// Train runs the fine-tuning loop: Epochs passes of gradient steps
// with progress reports every ReportSteps, a validation pass before
// the first step and every EvalSteps thereafter, and an optional
// callback after each validation. Termination is iteration-count
// driven; Iterations zero means one pass over the training set.
func (t *TrainableLLM) Train(training, validation dataset.Dataset, cfg config.TrainConfig, callback EvalCallback) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	iterations := cfg.Iterations
	if iterations == 0 {
		iterations = training.Len() / cfg.BatchSize
	}
	if iterations == 0 {
		return fmt.Errorf("training dataset has no complete batch of %d", cfg.BatchSize)
	}
	valBatches := cfg.ValidationSamples / cfg.BatchSize

	params := nn.TrainableParameters(t.Model())
	trainables := make([]*tensor.Tensor, 0, len(params))
	for _, name := range nn.SortedKeys(params) {
		trainables = append(trainables, params[name])
	}

	gradFn := t.Engine().ValueAndGrad(t.Model())
	opt := newAdam(cfg.LearningRate)

	logger.Log.Info("starting training",
		"epochs", cfg.Epochs, "iterations", iterations,
		"batch_size", cfg.BatchSize, "learning_rate", cfg.LearningRate)

	next, stop := iter.Pull(training.Batches(cfg.BatchSize, true))
	defer stop()

	var (
		lossSum     float64
		steps       int
		tokens      int
		reportStart = time.Now()
	)
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		for it := 0; it < iterations; it++ {
			n := epoch*iterations + it

			if valBatches > 0 && (n == 0 || (n+1)%cfg.EvalSteps == 0) {
				evalStart := time.Now()
				valLoss, err := t.Evaluate(validation, cfg.BatchSize, valBatches)
				if err != nil {
					return fmt.Errorf("validation at step %d: %w", n+1, err)
				}
				logger.Log.Info("validation",
					"step", n+1, "loss", fmt.Sprintf("%.3f", valLoss),
					"duration", time.Since(evalStart).Round(time.Millisecond))
				metrics.RecordValidation(valLoss)
				if callback != nil {
					if res := callback(n+1, valLoss); res.Message != "" {
						logger.Log.Info(res.Message)
					}
				}
				// Validation time must not deflate the throughput report.
				reportStart = time.Now()
			}

			batch, ok := next()
			if !ok {
				return fmt.Errorf("training batches exhausted at step %d", n+1)
			}

			stepStart := time.Now()
			loss, toks, grads, err := gradFn(batch)
			if err != nil {
				return fmt.Errorf("gradient step %d: %w", n+1, err)
			}
			if cfg.Debug && n > 0 {
				warnZeroGradients(grads)
			}

			opt.Update(params, grads)
			tensor.Eval(trainables...)

			lossSum += loss
			steps++
			tokens += toks
			metrics.RecordTrainingStep(loss, toks, time.Since(stepStart))

			if (n+1)%cfg.ReportSteps == 0 {
				elapsed := time.Since(reportStart).Seconds()
				logger.Log.Info("training progress",
					"step", n+1,
					"loss", fmt.Sprintf("%.3f", lossSum/float64(steps)),
					"tokens_per_sec", fmt.Sprintf("%.1f", float64(tokens)/elapsed))
				lossSum, steps, tokens = 0, 0, 0
				reportStart = time.Now()
			}
		}
	}

	logger.Log.Info("training complete", "steps", cfg.Epochs*iterations)
	return nil
}

// warnZeroGradients flags parameters whose gradient vanished for the
// whole step, usually a sign the adapter is disconnected from the loss.
func warnZeroGradients(grads map[string]*tensor.Tensor) {
	for _, name := range nn.SortedKeys(grads) {
		zero := true
		for _, v := range grads[name].Data() {
			if v != 0 {
				zero = false
				break
			}
		}
		if zero {
			logger.Log.Warn("gradient is entirely zero", "param", name)
		}
	}
}
