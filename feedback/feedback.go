// Package feedback persists per-trace scores to an external store. The
// engine batches every non-failed score of a test result into one LogScores
// call.
package feedback

import (
	"context"
	"sync"

	"github.com/teilomillet/promptopt/utils"
)

// Score is one feedback entry keyed by the trace it belongs to.
type Score struct {
	TraceID string
	Name    string
	Value   float64
	Reason  string
}

// Sink accepts batches of feedback scores.
type Sink interface {
	LogScores(ctx context.Context, scores []Score) error
}

// InMemorySink accumulates scores; used in tests and local runs.
type InMemorySink struct {
	mu     sync.Mutex
	scores []Score
}

func NewInMemorySink() *InMemorySink {
	return &InMemorySink{}
}

func (s *InMemorySink) LogScores(_ context.Context, scores []Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores = append(s.scores, scores...)
	return nil
}

// Scores returns a copy of everything logged so far.
func (s *InMemorySink) Scores() []Score {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Score{}, s.scores...)
}

// LoggerSink writes scores to the logger; a stand-in when no backend is
// configured.
type LoggerSink struct {
	logger utils.Logger
}

func NewLoggerSink(logger utils.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

func (s *LoggerSink) LogScores(_ context.Context, scores []Score) error {
	for _, score := range scores {
		s.logger.Info("feedback score",
			"trace_id", score.TraceID,
			"name", score.Name,
			"value", score.Value,
			"reason", score.Reason,
		)
	}
	return nil
}
