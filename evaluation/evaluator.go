package evaluation

import (
	"context"

	"github.com/teilomillet/promptopt/metric"
	"github.com/teilomillet/promptopt/tracing"
	"github.com/teilomillet/promptopt/utils"
)

// KeyMapping renames or derives scoring inputs. Each key is the input name a
// metric expects; the value is either a string naming the source key in the
// merged item/output mapping, or a func(map[string]any) any deriving the
// value from the whole mapping.
type KeyMapping map[string]any

// MetricsEvaluator computes scores for a test case, tolerating ill-behaved
// metrics. At construction it partitions the supplied metrics into regular
// and task-span sets; the partition is immutable afterwards.
type MetricsEvaluator struct {
	regular    []metric.Metric
	taskSpan   []metric.TaskSpanMetric
	keyMapping KeyMapping
	logger     utils.Logger
}

func NewMetricsEvaluator(metrics []metric.Metric, keyMapping KeyMapping, logger utils.Logger) *MetricsEvaluator {
	evaluator := &MetricsEvaluator{
		keyMapping: keyMapping,
		logger:     logger,
	}
	for _, m := range metrics {
		if spanMetric, ok := m.(metric.TaskSpanMetric); ok {
			evaluator.taskSpan = append(evaluator.taskSpan, spanMetric)
			continue
		}
		evaluator.regular = append(evaluator.regular, m)
	}
	return evaluator
}

// RegularMetrics returns the metrics scored from item fields and task output.
func (e *MetricsEvaluator) RegularMetrics() []metric.Metric {
	return e.regular
}

// TaskSpanMetrics returns the metrics that need execution metadata.
func (e *MetricsEvaluator) TaskSpanMetrics() []metric.TaskSpanMetric {
	return e.taskSpan
}

// HasTaskSpanMetrics reports whether a trace-scoring pass is needed.
func (e *MetricsEvaluator) HasTaskSpanMetrics() bool {
	return len(e.taskSpan) > 0
}

// buildInputs merges item content with task output (task output wins on key
// collision), then applies the key mapping. It returns the merged inputs and
// any mapping entries that matched nothing, kept for diagnostics.
func (e *MetricsEvaluator) buildInputs(itemContent, taskOutput map[string]any) (map[string]any, []string) {
	merged := make(map[string]any, len(itemContent)+len(taskOutput)+len(e.keyMapping))
	for k, v := range itemContent {
		merged[k] = v
	}
	for k, v := range taskOutput {
		merged[k] = v
	}

	var unmatched []string
	for target, source := range e.keyMapping {
		switch src := source.(type) {
		case string:
			value, ok := merged[src]
			if !ok {
				unmatched = append(unmatched, target)
				continue
			}
			merged[target] = value
		case func(map[string]any) any:
			merged[target] = src(merged)
		default:
			unmatched = append(unmatched, target)
		}
	}
	return merged, unmatched
}

// checkRequiredInputs verifies a metric's required fields are satisfiable
// from the merged inputs. A missing field is a configuration error and must
// abort the evaluation; the unmatched mapping entries are included so typos
// in key names are visible in the failure.
func (e *MetricsEvaluator) checkRequiredInputs(m metric.Metric, inputs map[string]any, unmatched []string) error {
	var missing []string
	for _, field := range m.RequiredFields() {
		if _, ok := inputs[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	available := make([]string, 0, len(inputs))
	for key := range inputs {
		available = append(available, key)
	}
	return &ConfigurationError{
		Metric:            m.Name(),
		MissingFields:     missing,
		UnmatchedMappings: unmatched,
		AvailableKeys:     available,
	}
}

// ComputeRegularScores scores every regular metric against the merged
// inputs. A metric that returns an error yields a failed ScoreResult instead
// of aborting; a ConfigurationError propagates. The merged inputs are
// returned so callers can record exactly what the metrics saw.
func (e *MetricsEvaluator) ComputeRegularScores(ctx context.Context, itemContent, taskOutput map[string]any) ([]metric.ScoreResult, map[string]any, error) {
	inputs, unmatched := e.buildInputs(itemContent, taskOutput)

	var results []metric.ScoreResult
	for _, m := range e.regular {
		scores, err := e.scoreOne(ctx, m, inputs, unmatched, nil)
		if err != nil {
			return nil, inputs, err
		}
		results = append(results, scores...)
	}
	return results, inputs, nil
}

// ComputeTaskSpanScores runs the same algorithm over the task-span metrics,
// additionally handing each one the recorded span of the task invocation.
func (e *MetricsEvaluator) ComputeTaskSpanScores(ctx context.Context, itemContent, taskOutput map[string]any, span *tracing.Span) ([]metric.ScoreResult, map[string]any, error) {
	inputs, unmatched := e.buildInputs(itemContent, taskOutput)

	var results []metric.ScoreResult
	for _, m := range e.taskSpan {
		scores, err := e.scoreOne(ctx, m, inputs, unmatched, span)
		if err != nil {
			return nil, inputs, err
		}
		results = append(results, scores...)
	}
	return results, inputs, nil
}

func (e *MetricsEvaluator) scoreOne(ctx context.Context, m metric.Metric, inputs map[string]any, unmatched []string, span *tracing.Span) ([]metric.ScoreResult, error) {
	if err := e.checkRequiredInputs(m, inputs, unmatched); err != nil {
		return nil, err
	}

	var scores []metric.ScoreResult
	var err error
	if span != nil {
		scores, err = m.(metric.TaskSpanMetric).ScoreSpan(ctx, inputs, span)
	} else {
		scores, err = m.Score(ctx, inputs)
	}
	if err != nil {
		e.logger.Warn("metric scoring failed", "metric", m.Name(), "error", err)
		return metric.SingleScore(metric.FailedScore(m.Name(), err)), nil
	}
	return scores, nil
}
