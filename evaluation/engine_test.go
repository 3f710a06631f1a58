package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teilomillet/promptopt/dataset"
	"github.com/teilomillet/promptopt/feedback"
	"github.com/teilomillet/promptopt/llm"
	"github.com/teilomillet/promptopt/metric"
	"github.com/teilomillet/promptopt/tracing"
	"github.com/teilomillet/promptopt/utils"
)

func newTestEngine(t *testing.T, workers int, opts ...EngineOption) (*Engine, *utils.MemoryLogger) {
	t.Helper()
	logger := utils.NewMemoryLogger()
	opts = append(opts, WithProgress(func() ProgressReporter { return NopProgress{} }))
	return NewEngine(workers, logger, tracing.NewRecorder(), opts...), logger
}

func upperTask(_ context.Context, content map[string]any) (map[string]any, error) {
	msg, _ := content["msg"].(string)
	return map[string]any{"output": strings.ToUpper(msg)}, nil
}

func defaultPolicy() ExecutionPolicy {
	return ExecutionPolicy{RunsPerItem: 1, PassThreshold: 1}
}

func TestEngineRunsTrialsPerItemPolicy(t *testing.T) {
	engine, _ := newTestEngine(t, 4)

	items := []dataset.Item{
		{
			"id":               "item-a",
			"msg":              "hello",
			"reference":        "HELLO",
			"execution_policy": map[string]any{"runs_per_item": 2},
		},
		{
			"id":        "item-b",
			"msg":       "bye",
			"reference": "BYE",
		},
	}

	results, err := engine.RunAndScore(context.Background(), items, upperTask,
		[]metric.Metric{metric.NewEquals()}, defaultPolicy(), nil)
	require.NoError(t, err)
	require.Len(t, results, 3, "2 trials for item-a plus 1 for item-b")

	perItem := map[string]int{}
	for _, result := range results {
		perItem[result.TestCase.DatasetItemID]++
		require.Len(t, result.ScoreResults, 1)
		assert.Equal(t, 1.0, result.ScoreResults[0].Value,
			"item %s trial %d", result.TestCase.DatasetItemID, result.TrialID)
		assert.False(t, result.ScoreResults[0].ScoringFailed)
	}
	assert.Equal(t, 2, perItem["item-a"])
	assert.Equal(t, 1, perItem["item-b"])
}

func TestEngineTaskFailureDropsTrialOnly(t *testing.T) {
	engine, logger := newTestEngine(t, 2)

	task := func(_ context.Context, content map[string]any) (map[string]any, error) {
		if content["msg"] == "poison" {
			return nil, errors.New("model exploded")
		}
		return upperTask(context.Background(), content)
	}

	items := []dataset.Item{
		{"id": "item-a", "msg": "poison", "reference": "POISON"},
		{"id": "item-b", "msg": "hello", "reference": "HELLO"},
	}

	results, err := engine.RunAndScore(context.Background(), items, task,
		[]metric.Metric{metric.NewEquals()}, defaultPolicy(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1, "failed trial is dropped, not recorded")
	assert.Equal(t, "item-b", results[0].TestCase.DatasetItemID)
	assert.True(t, logger.HasMessage("task execution failed"))
}

func TestEngineRateLimitFailureAbortsRun(t *testing.T) {
	engine, logger := newTestEngine(t, 1)

	task := func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("429 too many requests")
	}

	_, err := engine.RunAndScore(context.Background(),
		[]dataset.Item{{"id": "item-a", "msg": "hello", "reference": "HELLO"}},
		task, []metric.Metric{metric.NewEquals()}, defaultPolicy(), nil)
	require.Error(t, err, "a rate-limited run must fail, not silently drop trials")
	assert.True(t, llm.IsRateLimitError(err))
	assert.True(t, logger.HasMessage("provider rate limit hit"))
	assert.False(t, logger.HasMessage("task execution failed"))
}

func TestEngineRateLimitErrorWaitsForInFlightTrials(t *testing.T) {
	engine, _ := newTestEngine(t, 4)

	task := func(_ context.Context, content map[string]any) (map[string]any, error) {
		if content["msg"] == "limited" {
			return nil, errors.New("rate limit exceeded")
		}
		return upperTask(context.Background(), content)
	}

	items := []dataset.Item{
		{"id": "item-a", "msg": "limited", "reference": "LIMITED"},
		{"id": "item-b", "msg": "hello", "reference": "HELLO"},
		{"id": "item-c", "msg": "bye", "reference": "BYE"},
	}

	_, err := engine.RunAndScore(context.Background(), items, task,
		[]metric.Metric{metric.NewEquals()}, defaultPolicy(), nil)
	require.Error(t, err)
	assert.True(t, llm.IsRateLimitError(err))
}

func TestEngineConfigurationErrorAbortsRun(t *testing.T) {
	engine, _ := newTestEngine(t, 2)

	equals := metric.NewEquals()
	equals.ReferenceKey = "expected_output" // nothing provides this key

	_, err := engine.RunAndScore(context.Background(),
		[]dataset.Item{{"id": "item-a", "msg": "hello", "reference": "HELLO"}},
		upperTask, []metric.Metric{equals}, defaultPolicy(), nil)

	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Contains(t, confErr.MissingFields, "expected_output")
}

func TestEngineTaskSpanScoresAppended(t *testing.T) {
	engine, _ := newTestEngine(t, 2)

	spanMetric := &stubSpanMetric{
		stubMetric: stubMetric{name: "span_probe"},
		scoreSpan: func(_ map[string]any, span *tracing.Span) ([]metric.ScoreResult, error) {
			require.NotNil(t, span)
			assert.False(t, span.EndTime().IsZero(), "evaluation span must be finalized")
			return metric.SingleScore(metric.ScoreResult{Name: "span_probe", Value: 1}), nil
		},
	}

	results, err := engine.RunAndScore(context.Background(),
		[]dataset.Item{{"id": "item-a", "msg": "hello", "reference": "HELLO"}},
		upperTask, []metric.Metric{metric.NewEquals(), spanMetric}, defaultPolicy(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	names := []string{}
	for _, score := range results[0].ScoreResults {
		names = append(names, score.Name)
	}
	assert.Equal(t, []string{"equals", "span_probe"}, names,
		"task-span scores are appended after regular scores, never replacing them")
}

func TestEngineMissingTraceIsHardError(t *testing.T) {
	engine, _ := newTestEngine(t, 1)
	evaluator := NewMetricsEvaluator([]metric.Metric{&stubSpanMetric{
		stubMetric: stubMetric{name: "span_probe"},
		scoreSpan: func(map[string]any, *tracing.Span) ([]metric.ScoreResult, error) {
			return nil, nil
		},
	}}, nil, utils.NewMemoryLogger())

	results := []TestResult{{
		TestCase: TestCase{TraceID: "never-recorded", DatasetItemID: "item-a"},
	}}
	err := engine.scoreTraces(context.Background(), evaluator, results)
	require.ErrorIs(t, err, ErrNoTrace)
}

func TestEngineFeedbackScoresLoggedOncePerResult(t *testing.T) {
	sink := feedback.NewInMemorySink()
	engine, _ := newTestEngine(t, 2, WithFeedbackSink(sink))

	failing := failingMetric("broken", errors.New("nope"))

	results, err := engine.RunAndScore(context.Background(),
		[]dataset.Item{{"id": "item-a", "msg": "hello", "reference": "HELLO"}},
		upperTask, []metric.Metric{metric.NewEquals(), failing}, defaultPolicy(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	scores := sink.Scores()
	require.Len(t, scores, 1, "failed scores are never persisted")
	assert.Equal(t, "equals", scores[0].Name)
	assert.Equal(t, 1.0, scores[0].Value)
	assert.Equal(t, results[0].TestCase.TraceID, scores[0].TraceID)
}

func TestEngineScoreTestCasesSkipsExecution(t *testing.T) {
	engine, _ := newTestEngine(t, 1)

	testCases := []TestCase{
		{
			DatasetItemID:      "item-a",
			DatasetItemContent: map[string]any{"msg": "hello", "reference": "HELLO"},
			TaskOutput:         map[string]any{"output": "HELLO"},
		},
		{
			DatasetItemID:      "item-b",
			DatasetItemContent: map[string]any{"msg": "bye", "reference": "BYE"},
			TaskOutput:         map[string]any{"output": "WRONG"},
		},
	}

	results, err := engine.ScoreTestCases(context.Background(), testCases,
		[]metric.Metric{metric.NewEquals()}, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1.0, results[0].ScoreResults[0].Value)
	assert.Equal(t, 0.0, results[1].ScoreResults[0].Value)
	assert.NotNil(t, results[0].TestCase.MappedScoringInputs)
}

func TestEngineScoreTestCasesRejectsTaskSpanMetrics(t *testing.T) {
	engine, _ := newTestEngine(t, 1)

	spanMetric := &stubSpanMetric{stubMetric: stubMetric{name: "span_probe"}}
	_, err := engine.ScoreTestCases(context.Background(), nil,
		[]metric.Metric{spanMetric}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task-span")
}

func TestEngineInvalidResolvedPolicyFailsLoudly(t *testing.T) {
	engine, _ := newTestEngine(t, 1)

	items := []dataset.Item{{
		"id":               "item-a",
		"msg":              "hello",
		"reference":        "HELLO",
		"execution_policy": map[string]any{"runs_per_item": 0},
	}}
	_, err := engine.RunAndScore(context.Background(), items, upperTask,
		[]metric.Metric{metric.NewEquals()}, defaultPolicy(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item-a")
}

func TestEngineManyItemsManyWorkers(t *testing.T) {
	engine, _ := newTestEngine(t, 8)

	var items []dataset.Item
	for i := 0; i < 40; i++ {
		items = append(items, dataset.Item{
			"id":        fmt.Sprintf("item-%02d", i),
			"msg":       "hello",
			"reference": "HELLO",
		})
	}

	results, err := engine.RunAndScore(context.Background(), items, upperTask,
		[]metric.Metric{metric.NewEquals()}, ExecutionPolicy{RunsPerItem: 3, PassThreshold: 1}, nil)
	require.NoError(t, err)
	assert.Len(t, results, 120)

	byItem := CalculateStatisticsByItem(results)
	require.Len(t, byItem, 40)
	for id, stats := range byItem {
		require.Contains(t, stats, "equals", "item %s", id)
		assert.Equal(t, 1.0, stats["equals"].Mean)
		assert.Len(t, stats["equals"].Values, 3)
	}
}
