package evaluation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoTrace is returned when task-span scoring is requested but no trace
// was recorded for a test result.
var ErrNoTrace = errors.New("no trace recorded for test result")

// ErrEmptyTrace is returned when a recorded trace holds zero spans while
// task-span scoring is requested.
var ErrEmptyTrace = errors.New("recorded trace has no spans")

// ConfigurationError reports scoring inputs that cannot satisfy a metric's
// required fields. It signals mis-wired field names, not a runtime scoring
// failure, so it always propagates instead of being converted into a failed
// score.
type ConfigurationError struct {
	Metric            string
	MissingFields     []string
	UnmatchedMappings []string
	AvailableKeys     []string
}

func (e *ConfigurationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "metric %q cannot score: missing required inputs %v", e.Metric, e.MissingFields)
	if len(e.AvailableKeys) > 0 {
		keys := append([]string{}, e.AvailableKeys...)
		sort.Strings(keys)
		fmt.Fprintf(&sb, " (available: %v)", keys)
	}
	if len(e.UnmatchedMappings) > 0 {
		fmt.Fprintf(&sb, "; scoring key mapping entries %v matched nothing, check for typos", e.UnmatchedMappings)
	}
	return sb.String()
}
