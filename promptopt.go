// Package promptopt assembles the evaluation engine from configuration: a
// worker pool size, a logger, a trace recorder and a feedback sink, wired
// together so callers can evaluate a prompt's task callable against a
// dataset with a few lines of setup.
package promptopt

import (
	"context"

	"github.com/google/uuid"

	"github.com/teilomillet/promptopt/config"
	"github.com/teilomillet/promptopt/dataset"
	"github.com/teilomillet/promptopt/evaluation"
	"github.com/teilomillet/promptopt/feedback"
	"github.com/teilomillet/promptopt/llm"
	"github.com/teilomillet/promptopt/metric"
	"github.com/teilomillet/promptopt/tracing"
	"github.com/teilomillet/promptopt/utils"
)

// Re-exported names so common flows only import this package.
type (
	ConfigOption     = config.ConfigOption
	ExecutionPolicy  = evaluation.ExecutionPolicy
	KeyMapping       = evaluation.KeyMapping
	TaskFunc         = evaluation.TaskFunc
	TestResult       = evaluation.TestResult
	EvaluationResult = evaluation.EvaluationResult
	Item             = dataset.Item
	Metric           = metric.Metric
	ScoreResult      = metric.ScoreResult
	LogLevel         = utils.LogLevel
)

var (
	SetWorkers  = config.SetWorkers
	SetLogLevel = config.SetLogLevel
	SetProvider = config.SetProvider
	SetModel    = config.SetModel
	SetAPIKey   = config.SetAPIKey
)

// Evaluator is the assembled evaluation stack.
type Evaluator struct {
	*evaluation.Engine
	cfg    *config.Config
	logger utils.Logger
	sink   *feedback.InMemorySink
}

// New builds an Evaluator from the default configuration plus options.
func New(opts ...config.ConfigOption) (*Evaluator, error) {
	cfg := config.NewConfig()
	config.ApplyOptions(cfg, opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := utils.NewLogger(cfg.LogLevel)
	sink := feedback.NewInMemorySink()
	engine := evaluation.NewEngine(cfg.Workers, logger, tracing.NewRecorder(),
		evaluation.WithFeedbackSink(sink))

	return &Evaluator{
		Engine: engine,
		cfg:    cfg,
		logger: logger,
		sink:   sink,
	}, nil
}

// DefaultPolicy returns the suite-level execution policy from configuration.
func (e *Evaluator) DefaultPolicy() evaluation.ExecutionPolicy {
	return evaluation.ExecutionPolicy{
		RunsPerItem:   e.cfg.DefaultRuns,
		PassThreshold: e.cfg.DefaultPassCount,
	}
}

// FeedbackScores returns every score persisted so far.
func (e *Evaluator) FeedbackScores() []feedback.Score {
	return e.sink.Scores()
}

// NewLLM builds the model adapter from this evaluator's configuration, for
// task callables and judge metrics that call a provider.
func (e *Evaluator) NewLLM() (llm.LLM, error) {
	return llm.NewLLM(e.cfg, e.logger, llm.NewProviderRegistry())
}

// Evaluate runs the task against every item, scores the outputs, and wraps
// everything in an EvaluationResult with a fresh experiment id.
func (e *Evaluator) Evaluate(
	ctx context.Context,
	datasetID string,
	items []dataset.Item,
	task evaluation.TaskFunc,
	metrics []metric.Metric,
	keyMapping evaluation.KeyMapping,
	experimentMetrics ...evaluation.ExperimentMetricFn,
) (*evaluation.EvaluationResult, error) {
	results, err := e.RunAndScore(ctx, items, task, metrics, e.DefaultPolicy(), keyMapping)
	if err != nil {
		return nil, err
	}

	result := &evaluation.EvaluationResult{
		ExperimentID: uuid.NewString(),
		DatasetID:    datasetID,
		TestResults:  results,
		TrialCount:   e.cfg.DefaultRuns,
	}

	if len(experimentMetrics) > 0 {
		reduced := evaluation.ComputeExperimentMetrics(experimentMetrics, result, e.logger)
		for scoreName, byMetric := range reduced {
			for metricName, value := range byMetric {
				result.ExperimentScores = append(result.ExperimentScores, metric.ScoreResult{
					Name:  scoreName + "." + metricName,
					Value: value,
				})
			}
		}
	}
	return result, nil
}
