package metric

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
)

func stringField(inputs map[string]any, key string) (string, error) {
	value, ok := inputs[key]
	if !ok {
		return "", fmt.Errorf("input %q not found", key)
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// Equals scores 1.0 when the task output exactly matches the reference.
type Equals struct {
	OutputKey    string
	ReferenceKey string
}

func NewEquals() *Equals {
	return &Equals{OutputKey: "output", ReferenceKey: "reference"}
}

func (m *Equals) Name() string { return "equals" }

func (m *Equals) RequiredFields() []string {
	return []string{m.OutputKey, m.ReferenceKey}
}

func (m *Equals) Score(_ context.Context, inputs map[string]any) ([]ScoreResult, error) {
	output, err := stringField(inputs, m.OutputKey)
	if err != nil {
		return nil, err
	}
	reference, err := stringField(inputs, m.ReferenceKey)
	if err != nil {
		return nil, err
	}

	value := 0.0
	if output == reference {
		value = 1.0
	}
	return SingleScore(ScoreResult{Name: m.Name(), Value: value}), nil
}

// Contains scores 1.0 when the task output contains the reference substring.
type Contains struct {
	OutputKey     string
	ReferenceKey  string
	CaseSensitive bool
}

func NewContains() *Contains {
	return &Contains{OutputKey: "output", ReferenceKey: "reference"}
}

func (m *Contains) Name() string { return "contains" }

func (m *Contains) RequiredFields() []string {
	return []string{m.OutputKey, m.ReferenceKey}
}

func (m *Contains) Score(_ context.Context, inputs map[string]any) ([]ScoreResult, error) {
	output, err := stringField(inputs, m.OutputKey)
	if err != nil {
		return nil, err
	}
	reference, err := stringField(inputs, m.ReferenceKey)
	if err != nil {
		return nil, err
	}

	if !m.CaseSensitive {
		output = strings.ToLower(output)
		reference = strings.ToLower(reference)
	}
	value := 0.0
	if strings.Contains(output, reference) {
		value = 1.0
	}
	return SingleScore(ScoreResult{Name: m.Name(), Value: value}), nil
}

// RegexMatch scores 1.0 when the task output matches the pattern.
type RegexMatch struct {
	OutputKey string
	pattern   *regexp.Regexp
}

func NewRegexMatch(pattern string) (*RegexMatch, error) {
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return &RegexMatch{OutputKey: "output", pattern: compiled}, nil
}

func (m *RegexMatch) Name() string { return "regex_match" }

func (m *RegexMatch) RequiredFields() []string {
	return []string{m.OutputKey}
}

func (m *RegexMatch) Score(_ context.Context, inputs map[string]any) ([]ScoreResult, error) {
	output, err := stringField(inputs, m.OutputKey)
	if err != nil {
		return nil, err
	}

	value := 0.0
	if m.pattern.MatchString(output) {
		value = 1.0
	}
	return SingleScore(ScoreResult{
		Name:     m.Name(),
		Value:    value,
		Metadata: map[string]any{"pattern": m.pattern.String()},
	}), nil
}

// LevenshteinRatio scores normalized edit-distance similarity between task
// output and reference: 1.0 for identical strings, 0.0 for fully distinct.
type LevenshteinRatio struct {
	OutputKey    string
	ReferenceKey string
}

func NewLevenshteinRatio() *LevenshteinRatio {
	return &LevenshteinRatio{OutputKey: "output", ReferenceKey: "reference"}
}

func (m *LevenshteinRatio) Name() string { return "levenshtein_ratio" }

func (m *LevenshteinRatio) RequiredFields() []string {
	return []string{m.OutputKey, m.ReferenceKey}
}

func (m *LevenshteinRatio) Score(_ context.Context, inputs map[string]any) ([]ScoreResult, error) {
	output, err := stringField(inputs, m.OutputKey)
	if err != nil {
		return nil, err
	}
	reference, err := stringField(inputs, m.ReferenceKey)
	if err != nil {
		return nil, err
	}

	longest := max(len([]rune(output)), len([]rune(reference)))
	value := 1.0
	if longest > 0 {
		distance := levenshtein.ComputeDistance(output, reference)
		value = 1.0 - float64(distance)/float64(longest)
	}
	return SingleScore(ScoreResult{Name: m.Name(), Value: value}), nil
}
