package evaluation

import (
	"fmt"

	"github.com/teilomillet/promptopt/utils"
)

// ExperimentScore is one post-hoc reduction over a completed evaluation:
// a metric name applied to a score name, e.g. ("accuracy", "mean").
type ExperimentScore struct {
	ScoreName  string
	MetricName string
	Value      float64
}

// ExperimentMetricFn reduces a completed evaluation result to one or more
// experiment scores.
type ExperimentMetricFn func(result *EvaluationResult) ([]ExperimentScore, error)

// ComputeExperimentMetrics applies every reducer to the evaluation result
// and returns the reductions keyed by score name then metric name. A reducer
// that fails (error or panic) is logged and its output dropped; the other
// reducers still run. Duplicate (score, metric) pairs keep the first value
// and the discarded duplicate is logged.
func ComputeExperimentMetrics(fns []ExperimentMetricFn, result *EvaluationResult, logger utils.Logger) map[string]map[string]float64 {
	out := make(map[string]map[string]float64)
	for i, fn := range fns {
		scores, err := runReducer(fn, result)
		if err != nil {
			logger.Error("experiment metric function failed, dropping its output", "index", i, "error", err)
			continue
		}
		for _, score := range scores {
			byMetric, ok := out[score.ScoreName]
			if !ok {
				byMetric = make(map[string]float64)
				out[score.ScoreName] = byMetric
			}
			if _, exists := byMetric[score.MetricName]; exists {
				logger.Warn("duplicate experiment metric, keeping first value",
					"score", score.ScoreName, "metric", score.MetricName, "discarded", score.Value)
				continue
			}
			byMetric[score.MetricName] = score.Value
		}
	}
	return out
}

func runReducer(fn ExperimentMetricFn, result *EvaluationResult) (scores []ExperimentScore, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("experiment metric panicked: %v", r)
		}
	}()
	return fn(result)
}

// MeanReducer reports the mean of every score name as metric "mean".
func MeanReducer() ExperimentMetricFn {
	return func(result *EvaluationResult) ([]ExperimentScore, error) {
		var scores []ExperimentScore
		for name, stats := range result.AggregateScoreStatistics() {
			scores = append(scores, ExperimentScore{
				ScoreName:  name,
				MetricName: "mean",
				Value:      stats.Mean,
			})
		}
		return scores, nil
	}
}

// PassRateReducer reports, per score name, the fraction of non-failed values
// at or above passValue as metric "pass_rate".
func PassRateReducer(passValue float64) ExperimentMetricFn {
	return func(result *EvaluationResult) ([]ExperimentScore, error) {
		passed := make(map[string]int)
		total := make(map[string]int)
		for _, testResult := range result.TestResults {
			for _, score := range testResult.ScoreResults {
				if score.ScoringFailed || !isFinite(score.Value) {
					continue
				}
				total[score.Name]++
				if score.Value >= passValue {
					passed[score.Name]++
				}
			}
		}

		var scores []ExperimentScore
		for name, count := range total {
			scores = append(scores, ExperimentScore{
				ScoreName:  name,
				MetricName: "pass_rate",
				Value:      float64(passed[name]) / float64(count),
			})
		}
		return scores, nil
	}
}
