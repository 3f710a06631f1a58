package metric

import (
	"context"
	"fmt"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/teilomillet/promptopt/tracing"
)

// TokenUsage reports the token counts recorded on the task's span as three
// sub-scores. When the span carries no usage (the task never reported any),
// output text is tokenized locally as a completion-count estimate.
type TokenUsage struct {
	Encoding string
}

func NewTokenUsage() *TokenUsage {
	return &TokenUsage{Encoding: "cl100k_base"}
}

func (m *TokenUsage) Name() string { return "token_usage" }

func (m *TokenUsage) RequiredFields() []string { return nil }

// Score satisfies Metric but token usage only exists on a recorded span.
func (m *TokenUsage) Score(context.Context, map[string]any) ([]ScoreResult, error) {
	return nil, fmt.Errorf("%s requires execution metadata and cannot score without a span", m.Name())
}

func (m *TokenUsage) ScoreSpan(_ context.Context, _ map[string]any, span *tracing.Span) ([]ScoreResult, error) {
	usage := span.Usage()
	if usage.TotalTokens == 0 {
		estimated, err := m.estimateFromOutput(span)
		if err != nil {
			return nil, err
		}
		usage = estimated
	}

	return []ScoreResult{
		{Name: m.Name() + ".total", Value: float64(usage.TotalTokens)},
		{Name: m.Name() + ".prompt", Value: float64(usage.PromptTokens)},
		{Name: m.Name() + ".completion", Value: float64(usage.CompletionTokens)},
	}, nil
}

func (m *TokenUsage) estimateFromOutput(span *tracing.Span) (tracing.Usage, error) {
	encoding, err := tiktoken.GetEncoding(m.Encoding)
	if err != nil {
		return tracing.Usage{}, fmt.Errorf("unknown encoding %q: %w", m.Encoding, err)
	}

	count := 0
	for _, value := range span.Output() {
		if text, ok := value.(string); ok {
			count += len(encoding.Encode(text, nil, nil))
		}
	}
	return tracing.Usage{CompletionTokens: count, TotalTokens: count}, nil
}

// Latency scores the task invocation's wall-clock duration in seconds, plus
// a pass/fail sub-score against an optional threshold.
type Latency struct {
	Threshold time.Duration
}

func NewLatency(threshold time.Duration) *Latency {
	return &Latency{Threshold: threshold}
}

func (m *Latency) Name() string { return "latency" }

func (m *Latency) RequiredFields() []string { return nil }

func (m *Latency) Score(context.Context, map[string]any) ([]ScoreResult, error) {
	return nil, fmt.Errorf("%s requires execution metadata and cannot score without a span", m.Name())
}

func (m *Latency) ScoreSpan(_ context.Context, _ map[string]any, span *tracing.Span) ([]ScoreResult, error) {
	elapsed := span.Duration()
	results := []ScoreResult{
		{Name: m.Name() + ".seconds", Value: elapsed.Seconds()},
	}
	if m.Threshold > 0 {
		within := 0.0
		if elapsed <= m.Threshold {
			within = 1.0
		}
		results = append(results, ScoreResult{
			Name:   m.Name() + ".within_threshold",
			Value:  within,
			Reason: fmt.Sprintf("threshold %s, took %s", m.Threshold, elapsed.Round(time.Millisecond)),
		})
	}
	return results, nil
}
