package evaluation

import (
	"context"
	"fmt"

	"github.com/teilomillet/promptopt/dataset"
	"github.com/teilomillet/promptopt/feedback"
	"github.com/teilomillet/promptopt/llm"
	"github.com/teilomillet/promptopt/metric"
	"github.com/teilomillet/promptopt/tracing"
	"github.com/teilomillet/promptopt/utils"
)

// TaskFunc is the user-supplied task callable: one execution of the prompt
// under evaluation against one dataset item's content. It is invoked once
// per (item, trial) and may be called concurrently from multiple workers.
type TaskFunc func(ctx context.Context, itemContent map[string]any) (map[string]any, error)

// Engine owns the per-item evaluation lifecycle: policy resolution, task
// execution under a recorded span, scoring, and the optional second scoring
// pass over recorded traces.
type Engine struct {
	workers  int
	logger   utils.Logger
	recorder *tracing.Recorder
	sink     feedback.Sink
	progress func() ProgressReporter
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithProgress replaces the per-run progress reporter factory.
func WithProgress(factory func() ProgressReporter) EngineOption {
	return func(e *Engine) {
		e.progress = factory
	}
}

// WithFeedbackSink sets where non-failed scores are persisted.
func WithFeedbackSink(sink feedback.Sink) EngineOption {
	return func(e *Engine) {
		e.sink = sink
	}
}

// NewEngine creates an engine running tasks on a pool of the given size.
// With workers == 1 evaluation is strictly sequential.
func NewEngine(workers int, logger utils.Logger, recorder *tracing.Recorder, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = utils.NewLogger(utils.LogLevelWarn)
	}
	if recorder == nil {
		recorder = tracing.NewRecorder()
	}
	engine := &Engine{
		workers:  workers,
		logger:   logger,
		recorder: recorder,
		progress: func() ProgressReporter { return NewLoggerProgress(logger) },
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// RunAndScore executes the task once per (item, trial) and scores every
// successful execution. Trials whose task callable fails are dropped, not
// recorded, except rate-limit failures, which abort the run; metric failures
// are recorded as failed scores. The returned results are in completion
// order.
func (e *Engine) RunAndScore(
	ctx context.Context,
	items []dataset.Item,
	task TaskFunc,
	metrics []metric.Metric,
	defaultPolicy ExecutionPolicy,
	keyMapping KeyMapping,
) ([]TestResult, error) {
	if task == nil {
		return nil, fmt.Errorf("task callable is required")
	}
	if err := defaultPolicy.Validate(); err != nil {
		return nil, err
	}

	evaluator := NewMetricsEvaluator(metrics, keyMapping, e.logger)
	executor := NewStreamingExecutor[*TestResult](e.workers, e.progress(), e.logger)
	defer executor.Close()

	keepTraces := evaluator.HasTaskSpanMetrics()

	for _, item := range items {
		policy, err := ResolvePolicy(defaultPolicy, item)
		if err != nil {
			return nil, err
		}

		itemID := item.ID()
		content := item.Content()
		executor.SetGroupSize(itemID, policy.RunsPerItem)
		for trial := 0; trial < policy.RunsPerItem; trial++ {
			executor.Submit(e.trialTask(ctx, evaluator, task, itemID, content, trial, keepTraces), itemID)
		}
	}

	collected, err := executor.GetResults()
	if err != nil {
		return nil, err
	}

	results := make([]TestResult, 0, len(collected))
	for _, result := range collected {
		results = append(results, *result)
	}

	if keepTraces {
		if err := e.scoreTraces(ctx, evaluator, results); err != nil {
			return nil, err
		}
	}

	if err := e.logFeedbackScores(ctx, results); err != nil {
		return nil, err
	}
	return results, nil
}

// trialTask builds the closure executed for one (item, trial) pair: run the
// task under a recorded span, then score the output with the regular
// metrics. An ordinary task failure is logged and the trial dropped via
// ErrSkipResult; it never fabricates a failed TestResult. A provider
// rate-limit failure is logged distinctly and re-raised, because it means
// the whole run is hammering the provider and must stop rather than silently
// thin out its trials.
func (e *Engine) trialTask(
	ctx context.Context,
	evaluator *MetricsEvaluator,
	task TaskFunc,
	itemID string,
	content map[string]any,
	trial int,
	keepTrace bool,
) Task[*TestResult] {
	return func() (*TestResult, error) {
		traceCtx, trace := e.recorder.StartTrace(ctx)
		if !keepTrace {
			defer e.recorder.Discard(trace.ID)
		}

		output, err := e.runTracedTask(traceCtx, task, content)
		if err != nil {
			if llm.IsRateLimitError(err) {
				e.logger.Error("provider rate limit hit",
					"dataset_item_id", itemID, "trial_id", trial, "error", err)
				return nil, err
			}
			e.logger.Error("task execution failed, trial dropped",
				"dataset_item_id", itemID, "trial_id", trial, "error", err)
			return nil, ErrSkipResult
		}

		scores, mappedInputs, err := evaluator.ComputeRegularScores(ctx, content, output)
		if err != nil {
			return nil, err
		}

		return &TestResult{
			TestCase: TestCase{
				TraceID:             trace.ID,
				DatasetItemID:       itemID,
				TaskOutput:          output,
				DatasetItemContent:  content,
				MappedScoringInputs: mappedInputs,
			},
			ScoreResults: scores,
			TrialID:      trial,
		}, nil
	}
}

// runTracedTask invokes the task callable inside a span that is finalized on
// every exit path, capturing input, output and error info.
func (e *Engine) runTracedTask(ctx context.Context, task TaskFunc, content map[string]any) (output map[string]any, err error) {
	spanCtx, span := e.recorder.StartSpan(ctx, "task")
	span.SetInput(content)
	defer func() {
		if err != nil {
			span.RecordError(err)
		} else {
			span.SetOutput(output)
		}
		span.End()
	}()

	return task(spanCtx, content)
}

// scoreTraces runs the second scoring pass: for each test result, fetch its
// recorded trace, take the first span (the task invocation itself) and
// append the task-span scores to the result's
// existing scores. A missing or empty trace is a hard error; task-span
// scoring is meaningless without one.
func (e *Engine) scoreTraces(ctx context.Context, evaluator *MetricsEvaluator, results []TestResult) error {
	for i := range results {
		testCase := &results[i].TestCase

		trace, ok := e.recorder.Trace(testCase.TraceID)
		if !ok {
			return fmt.Errorf("%w: trace %s (dataset item %s)", ErrNoTrace, testCase.TraceID, testCase.DatasetItemID)
		}
		span := trace.FirstSpan()
		if span == nil {
			return fmt.Errorf("%w: trace %s (dataset item %s)", ErrEmptyTrace, testCase.TraceID, testCase.DatasetItemID)
		}

		scores, _, err := evaluator.ComputeTaskSpanScores(ctx, testCase.DatasetItemContent, testCase.TaskOutput, span)
		if err != nil {
			return err
		}
		results[i].ScoreResults = append(results[i].ScoreResults, scores...)
		e.recorder.Discard(testCase.TraceID)
	}
	return nil
}

// logFeedbackScores persists every non-failed score, one batch per test
// result.
func (e *Engine) logFeedbackScores(ctx context.Context, results []TestResult) error {
	if e.sink == nil {
		return nil
	}
	for _, result := range results {
		batch := make([]feedback.Score, 0, len(result.ScoreResults))
		for _, score := range result.ScoreResults {
			if score.ScoringFailed {
				continue
			}
			batch = append(batch, feedback.Score{
				TraceID: result.TestCase.TraceID,
				Name:    score.Name,
				Value:   score.Value,
				Reason:  score.Reason,
			})
		}
		if len(batch) == 0 {
			continue
		}
		if err := e.sink.LogScores(ctx, batch); err != nil {
			e.logger.Warn("failed to persist feedback scores",
				"trace_id", result.TestCase.TraceID, "error", err)
		}
	}
	return nil
}

// ScoreTestCases recomputes scores for already-executed test cases without
// running or tracing any task. Task-span metrics are rejected: their
// execution metadata is gone once the original run ended.
func (e *Engine) ScoreTestCases(
	ctx context.Context,
	testCases []TestCase,
	metrics []metric.Metric,
	keyMapping KeyMapping,
) ([]TestResult, error) {
	evaluator := NewMetricsEvaluator(metrics, keyMapping, e.logger)
	if evaluator.HasTaskSpanMetrics() {
		return nil, fmt.Errorf("task-span metrics cannot re-score recorded test cases: execution metadata is no longer available")
	}

	results := make([]TestResult, 0, len(testCases))
	for i, testCase := range testCases {
		scores, mappedInputs, err := evaluator.ComputeRegularScores(ctx, testCase.DatasetItemContent, testCase.TaskOutput)
		if err != nil {
			return nil, err
		}
		rescored := testCase
		rescored.MappedScoringInputs = mappedInputs
		results = append(results, TestResult{
			TestCase:     rescored,
			ScoreResults: scores,
			TrialID:      i,
		})
	}

	if err := e.logFeedbackScores(ctx, results); err != nil {
		return nil, err
	}
	return results, nil
}
