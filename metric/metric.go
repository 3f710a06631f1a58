// Package metric defines the scoring contract used by the evaluation engine
// and a small library of built-in metrics.
//
// A metric is either regular (scored from dataset fields plus task output) or
// task-span (additionally needs execution metadata recorded during the task's
// invocation). A metric opts into task-span scoring by implementing
// TaskSpanMetric; the engine detects this with a type assertion, so a metric
// receives execution metadata only if it declared that need.
package metric

import (
	"context"

	"github.com/teilomillet/promptopt/tracing"
)

// ScoreResult is the atomic unit of scoring output: one named value per
// metric per test case. ScoringFailed marks results synthesized from a
// scoring error; their Value is always zero and Reason holds the error text.
type ScoreResult struct {
	Name          string         `json:"name"`
	Value         float64        `json:"value"`
	Reason        string         `json:"reason,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ScoringFailed bool           `json:"scoring_failed"`
}

// Metric scores one test case from a mapped-inputs dict. Score may return
// several results when the metric decomposes into sub-scores. Metrics must be
// safe for concurrent use; the engine calls them from multiple workers.
type Metric interface {
	Name() string

	// RequiredFields lists the input keys the metric cannot score without.
	// The engine verifies these are present before calling Score and treats
	// a missing key as a configuration error, not a scoring failure.
	RequiredFields() []string

	Score(ctx context.Context, inputs map[string]any) ([]ScoreResult, error)
}

// TaskSpanMetric is a Metric that additionally scores from the recorded span
// of the task invocation (token counts, latency, error info).
type TaskSpanMetric interface {
	Metric
	ScoreSpan(ctx context.Context, inputs map[string]any, span *tracing.Span) ([]ScoreResult, error)
}

// FailedScore builds the ScoreResult recorded when a metric's scoring call
// returns an error.
func FailedScore(name string, err error) ScoreResult {
	return ScoreResult{
		Name:          name,
		Value:         0.0,
		Reason:        err.Error(),
		ScoringFailed: true,
	}
}

// SingleScore wraps one result in the slice shape Score returns.
func SingleScore(result ScoreResult) []ScoreResult {
	return []ScoreResult{result}
}
