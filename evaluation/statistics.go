package evaluation

import (
	"math"
	"sort"
)

// CalculateAggregatedStatistics groups every non-failed score by name across
// the result set and computes mean, min, max and sample standard deviation.
// Failed scores and non-finite values are excluded entirely; they neither
// shift the statistics nor count as samples.
func CalculateAggregatedStatistics(results []TestResult) map[string]ScoreStatistics {
	values := make(map[string][]float64)
	for _, result := range results {
		for _, score := range result.ScoreResults {
			if score.ScoringFailed || !isFinite(score.Value) {
				continue
			}
			values[score.Name] = append(values[score.Name], score.Value)
		}
	}

	statistics := make(map[string]ScoreStatistics, len(values))
	for name, samples := range values {
		statistics[name] = newScoreStatistics(samples)
	}
	return statistics
}

// CalculateStatisticsByItem performs the same computation per dataset item,
// sorting each item's results by trial id first so output ordering is
// deterministic.
func CalculateStatisticsByItem(results []TestResult) map[string]map[string]ScoreStatistics {
	grouped := make(map[string][]TestResult)
	for _, result := range results {
		id := result.TestCase.DatasetItemID
		grouped[id] = append(grouped[id], result)
	}

	statistics := make(map[string]map[string]ScoreStatistics, len(grouped))
	for id, itemResults := range grouped {
		sort.Slice(itemResults, func(i, j int) bool {
			return itemResults[i].TrialID < itemResults[j].TrialID
		})
		statistics[id] = CalculateAggregatedStatistics(itemResults)
	}
	return statistics
}

// newScoreStatistics reduces samples to summary statistics. Std is sample
// standard deviation and stays nil below two samples, where it is undefined.
func newScoreStatistics(samples []float64) ScoreStatistics {
	stats := ScoreStatistics{
		Values: samples,
		Min:    math.Inf(1),
		Max:    math.Inf(-1),
	}

	sum := 0.0
	for _, v := range samples {
		sum += v
		stats.Min = math.Min(stats.Min, v)
		stats.Max = math.Max(stats.Max, v)
	}
	stats.Mean = sum / float64(len(samples))

	if len(samples) >= 2 {
		variance := 0.0
		for _, v := range samples {
			delta := v - stats.Mean
			variance += delta * delta
		}
		std := math.Sqrt(variance / float64(len(samples)-1))
		stats.Std = &std
	}
	return stats
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
