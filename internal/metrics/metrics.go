// Package metrics exposes Prometheus collectors for generation and
// fine-tuning. Collectors register on the default registry; serving
// them is the caller's concern.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GeneratedTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sillm_generated_tokens_total",
		Help: "Total number of tokens emitted by generation",
	})

	GenerationDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "sillm_generation_duration_seconds",
		Help: "Wall-clock duration of generation calls",
	})

	GenerationTemperature = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sillm_generation_temperature",
		Help:    "Temperature values used for sampling",
		Buckets: []float64{0, 0.1, 0.3, 0.5, 0.7, 1.0, 1.5, 2.0},
	})

	TrainingLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sillm_training_loss",
		Help: "Most recently reported mean training loss",
	})

	ValidationLoss = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sillm_validation_loss",
		Help: "Most recently computed validation loss",
	})

	TrainingStepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sillm_training_steps_total",
		Help: "Total number of optimizer steps taken",
	})

	TrainingTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sillm_training_tokens_total",
		Help: "Total number of tokens consumed by training",
	})

	TrainingStepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sillm_training_step_duration_seconds",
		Help:    "Duration of individual training steps",
		Buckets: prometheus.DefBuckets,
	})

	TrainableParameters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sillm_trainable_parameters",
		Help: "Number of scalar parameters currently marked trainable",
	})

	CheckpointsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sillm_checkpoints_total",
		Help: "Total number of checkpoints written",
	})

	AdapterMergesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sillm_adapter_merges_total",
		Help: "Total number of adapters merged back into their base layers",
	})

	QuantizedLayersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sillm_quantized_layers_total",
		Help: "Total number of layers quantized, by bit width",
	}, []string{"bits"})
)

func RecordGeneration(tokens int, temperature float64, duration time.Duration) {
	GeneratedTokensTotal.Add(float64(tokens))
	GenerationTemperature.Observe(temperature)
	GenerationDuration.Observe(duration.Seconds())
}

func RecordTrainingStep(loss float64, tokens int, duration time.Duration) {
	TrainingLoss.Set(loss)
	TrainingStepsTotal.Inc()
	TrainingTokensTotal.Add(float64(tokens))
	TrainingStepDuration.Observe(duration.Seconds())
}

func RecordValidation(loss float64) {
	ValidationLoss.Set(loss)
}

func RecordCheckpoint() {
	CheckpointsTotal.Inc()
}

func RecordAdapterMerges(count int) {
	AdapterMergesTotal.Add(float64(count))
}

func RecordQuantizedLayer(bits int) {
	QuantizedLayersTotal.WithLabelValues(strconv.Itoa(bits)).Inc()
}

func SetTrainableParameters(count int) {
	TrainableParameters.Set(float64(count))
}
