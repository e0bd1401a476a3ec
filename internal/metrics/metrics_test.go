package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzrouter/gateway/internal/apierror"
	"github.com/tzrouter/gateway/internal/content"
	"github.com/tzrouter/gateway/internal/coordinator"
)

func TestObserveInferenceRecordsLatencyAndTokens(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveInference("extract_entities", "gpt4", 150*time.Millisecond, "gpt-4o", 10, 20)

	families, err := reg.Gather()
	require.NoError(t, err)

	var sawLatency, sawInput, sawOutput bool
	for _, f := range families {
		switch f.GetName() {
		case "llmrouter_inference_duration_seconds":
			sawLatency = true
			assert.Equal(t, uint64(1), f.Metric[0].GetHistogram().GetSampleCount())
		case "llmrouter_input_tokens_total":
			sawInput = true
			assert.Equal(t, float64(10), sumCounter(f.Metric))
		case "llmrouter_output_tokens_total":
			sawOutput = true
			assert.Equal(t, float64(20), sumCounter(f.Metric))
		}
	}
	assert.True(t, sawLatency)
	assert.True(t, sawInput)
	assert.True(t, sawOutput)
}

func TestRecordErrorIncrementsByKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordError("unknown_model")
	m.RecordError("unknown_model")

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "llmrouter_inference_errors_total" {
			assert.Equal(t, float64(2), sumCounter(f.Metric))
		}
	}
}

func TestCacheHitRatioZeroWithNilCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "llmrouter_cache_hit_ratio" {
			assert.Equal(t, float64(0), f.Metric[0].GetGauge().GetValue())
		}
	}
}

func TestObserverRecordsSuccessAndError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	obs := NewObserver(m)

	obs.Observe(context.Background(), coordinator.InferenceRecord{
		FunctionName: "extract_entities",
		VariantName:  "gpt4",
		ModelName:    "gpt-4o",
		Latency:      50 * time.Millisecond,
		Usage:        content.Usage{InputTokens: 5, OutputTokens: 7},
	})
	obs.Observe(context.Background(), coordinator.InferenceRecord{
		FunctionName: "extract_entities",
		VariantName:  "gpt4",
		Err:          apierror.New(apierror.KindUnknownModel, "no such model"),
	})

	families, err := reg.Gather()
	require.NoError(t, err)

	var sawLatency, sawInput, sawError bool
	for _, f := range families {
		switch f.GetName() {
		case "llmrouter_inference_duration_seconds":
			sawLatency = true
			assert.Equal(t, uint64(1), f.Metric[0].GetHistogram().GetSampleCount())
		case "llmrouter_input_tokens_total":
			sawInput = true
			assert.Equal(t, float64(5), sumCounter(f.Metric))
		case "llmrouter_inference_errors_total":
			sawError = true
			assert.Equal(t, float64(1), sumCounter(f.Metric))
		}
	}
	assert.True(t, sawLatency)
	assert.True(t, sawInput)
	assert.True(t, sawError)
}

func sumCounter(metrics []*dto.Metric) float64 {
	var total float64
	for _, m := range metrics {
		total += m.GetCounter().GetValue()
	}
	return total
}
