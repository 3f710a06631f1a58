package evaluation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/teilomillet/promptopt/utils"
)

// ProgressReporter receives live progress from the executor: the number of
// completed progress units (a unit is one ungrouped task or one fully
// completed group) and the running average per score name. Updates are
// best-effort display only and must never affect execution.
type ProgressReporter interface {
	Advance(completed int, averages map[string]float64)
	Done()
}

// NopProgress discards all updates.
type NopProgress struct{}

func (NopProgress) Advance(int, map[string]float64) {}
func (NopProgress) Done()                           {}

// LoggerProgress writes progress lines through the logger.
type LoggerProgress struct {
	logger utils.Logger
}

func NewLoggerProgress(logger utils.Logger) *LoggerProgress {
	return &LoggerProgress{logger: logger}
}

func (p *LoggerProgress) Advance(completed int, averages map[string]float64) {
	p.logger.Info("evaluation progress", "completed", completed, "averages", formatAverages(averages))
}

func (p *LoggerProgress) Done() {
	p.logger.Info("evaluation complete")
}

func formatAverages(averages map[string]float64) string {
	if len(averages) == 0 {
		return "-"
	}
	names := make([]string, 0, len(averages))
	for name := range averages {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%.4f", name, averages[name]))
	}
	return strings.Join(parts, " ")
}
