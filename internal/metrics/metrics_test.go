package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordGeneration(t *testing.T) {
	before := testutil.ToFloat64(GeneratedTokensTotal)
	RecordGeneration(10, 0.7, 100*time.Millisecond)
	after := testutil.ToFloat64(GeneratedTokensTotal)
	if after-before != 10 {
		t.Errorf("counter moved by %v, want 10", after-before)
	}
}

func TestRecordTrainingStep(t *testing.T) {
	RecordTrainingStep(2.5, 128, 50*time.Millisecond)
	RecordTrainingStep(2.1, 128, 45*time.Millisecond)

	// Gauge tracks the latest value.
	if got := testutil.ToFloat64(TrainingLoss); got != 2.1 {
		t.Errorf("training loss gauge = %v, want 2.1", got)
	}
}

func TestRecordValidation(t *testing.T) {
	RecordValidation(3.0)
	if got := testutil.ToFloat64(ValidationLoss); got != 3.0 {
		t.Errorf("validation loss gauge = %v, want 3.0", got)
	}
}

func TestRecordQuantizedLayer(t *testing.T) {
	before := testutil.ToFloat64(QuantizedLayersTotal.WithLabelValues("4"))
	RecordQuantizedLayer(4)
	RecordQuantizedLayer(4)
	RecordQuantizedLayer(8)
	after := testutil.ToFloat64(QuantizedLayersTotal.WithLabelValues("4"))
	if after-before != 2 {
		t.Errorf("4-bit counter moved by %v, want 2", after-before)
	}
}

func TestHelpersDoNotPanic(t *testing.T) {
	RecordCheckpoint()
	RecordAdapterMerges(7)
	SetTrainableParameters(430080)
}
