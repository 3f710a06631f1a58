// Package evaluation implements the core task-and-scoring runner: a
// streaming parallel executor, a metrics evaluator with key-mapping
// indirection, the engine orchestrating per-item trials and trace-based
// scoring, and aggregation over the collected results.
package evaluation

import (
	"github.com/teilomillet/promptopt/metric"
)

// TestCase records one task invocation: what went in, what came out, and
// exactly what was handed to the metrics.
type TestCase struct {
	TraceID             string         `json:"trace_id"`
	DatasetItemID       string         `json:"dataset_item_id"`
	TaskOutput          map[string]any `json:"task_output"`
	DatasetItemContent  map[string]any `json:"dataset_item_content"`
	MappedScoringInputs map[string]any `json:"mapped_scoring_inputs,omitempty"`
}

// TestResult pairs a test case with its score results. One per successful
// (item, trial) pair.
type TestResult struct {
	TestCase     TestCase             `json:"test_case"`
	ScoreResults []metric.ScoreResult `json:"score_results"`
	TrialID      int                  `json:"trial_id"`
}

// ScoreValues returns the non-failed score values by name. The executor uses
// this, best-effort, to display running averages.
func (r *TestResult) ScoreValues() map[string]float64 {
	values := make(map[string]float64, len(r.ScoreResults))
	for _, score := range r.ScoreResults {
		if !score.ScoringFailed {
			values[score.Name] = score.Value
		}
	}
	return values
}

// ScoreStatistics summarizes one score name across repeated values. Std is
// nil when fewer than two samples exist; it is never reported as zero in
// that case.
type ScoreStatistics struct {
	Mean   float64   `json:"mean"`
	Max    float64   `json:"max"`
	Min    float64   `json:"min"`
	Values []float64 `json:"values"`
	Std    *float64  `json:"std,omitempty"`
}

// EvaluationResult is the complete output of one evaluation run.
type EvaluationResult struct {
	ExperimentID     string               `json:"experiment_id"`
	DatasetID        string               `json:"dataset_id"`
	TestResults      []TestResult         `json:"test_results"`
	TrialCount       int                  `json:"trial_count"`
	ExperimentScores []metric.ScoreResult `json:"experiment_scores,omitempty"`
}

// AggregateScoreStatistics computes statistics per score name across the
// whole result set.
func (r *EvaluationResult) AggregateScoreStatistics() map[string]ScoreStatistics {
	return CalculateAggregatedStatistics(r.TestResults)
}

// ScoreStatisticsByItem groups results by dataset item, ordering each item's
// trials by trial id, and computes per-score statistics within every group.
func (r *EvaluationResult) ScoreStatisticsByItem() map[string]map[string]ScoreStatistics {
	return CalculateStatisticsByItem(r.TestResults)
}

// ToMap converts the result into the nested map shape backends ingest.
func (r *EvaluationResult) ToMap() map[string]any {
	aggregated := make(map[string]any)
	for name, stats := range r.AggregateScoreStatistics() {
		entry := map[string]any{
			"mean":   stats.Mean,
			"max":    stats.Max,
			"min":    stats.Min,
			"values": stats.Values,
		}
		if stats.Std != nil {
			entry["std"] = *stats.Std
		}
		aggregated[name] = entry
	}

	experimentScores := make(map[string]any, len(r.ExperimentScores))
	for _, score := range r.ExperimentScores {
		experimentScores[score.Name] = score.Value
	}

	return map[string]any{
		"experiment_id":     r.ExperimentID,
		"dataset_id":        r.DatasetID,
		"trial_count":       r.TrialCount,
		"test_result_count": len(r.TestResults),
		"scores":            aggregated,
		"experiment_scores": experimentScores,
	}
}
