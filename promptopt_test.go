package promptopt

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teilomillet/promptopt/evaluation"
	"github.com/teilomillet/promptopt/metric"
	"github.com/teilomillet/promptopt/utils"
)

func TestNewValidatesConfiguration(t *testing.T) {
	_, err := New(SetWorkers(4), SetLogLevel(utils.LogLevelOff))
	require.NoError(t, err)
}

func TestEvaluateEndToEnd(t *testing.T) {
	evaluator, err := New(SetWorkers(4), SetLogLevel(utils.LogLevelOff))
	require.NoError(t, err)

	items := []Item{
		{"id": "greet", "input": "hello", "expected": "HELLO"},
		{"id": "place", "input": "world", "expected": "WORLD"},
		{"id": "typo", "input": "helo", "expected": "HELLO"},
	}

	task := func(_ context.Context, content map[string]any) (map[string]any, error) {
		input, _ := content["input"].(string)
		return map[string]any{"output": strings.ToUpper(input)}, nil
	}

	metrics := []Metric{metric.NewEquals()}
	mapping := KeyMapping{"reference": "expected"}

	result, err := evaluator.Evaluate(context.Background(), "smoke-dataset", items, task, metrics, mapping,
		evaluation.MeanReducer(), evaluation.PassRateReducer(1.0))
	require.NoError(t, err)

	assert.Equal(t, "smoke-dataset", result.DatasetID)
	assert.NotEmpty(t, result.ExperimentID)
	require.Len(t, result.TestResults, 3)

	stats := result.AggregateScoreStatistics()
	require.Contains(t, stats, "equals")
	assert.InDelta(t, 2.0/3.0, stats["equals"].Mean, 1e-9)

	require.NotEmpty(t, result.ExperimentScores)
	byName := map[string]float64{}
	for _, score := range result.ExperimentScores {
		byName[score.Name] = score.Value
	}
	assert.InDelta(t, 2.0/3.0, byName["equals.mean"], 1e-9)
	assert.InDelta(t, 2.0/3.0, byName["equals.pass_rate"], 1e-9)
}

func TestEvaluateLogsFeedbackScores(t *testing.T) {
	evaluator, err := New(SetWorkers(1), SetLogLevel(utils.LogLevelOff))
	require.NoError(t, err)

	items := []Item{{"id": "only", "input": "hi", "expected": "HI"}}
	task := func(_ context.Context, content map[string]any) (map[string]any, error) {
		input, _ := content["input"].(string)
		return map[string]any{"output": strings.ToUpper(input)}, nil
	}

	_, err = evaluator.Evaluate(context.Background(), "feedback-dataset", items, task,
		[]Metric{metric.NewEquals()}, KeyMapping{"reference": "expected"})
	require.NoError(t, err)

	scores := evaluator.FeedbackScores()
	require.Len(t, scores, 1)
	assert.Equal(t, "equals", scores[0].Name)
	assert.Equal(t, 1.0, scores[0].Value)
	assert.NotEmpty(t, scores[0].TraceID)
}

func TestDefaultPolicyComesFromConfig(t *testing.T) {
	evaluator, err := New(SetWorkers(2), SetLogLevel(utils.LogLevelOff))
	require.NoError(t, err)

	policy := evaluator.DefaultPolicy()
	assert.Equal(t, 1, policy.RunsPerItem)
	assert.Equal(t, 1, policy.PassThreshold)
}
