package evaluation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/teilomillet/promptopt/utils"
)

// ErrSkipResult marks a task that reached a terminal state without producing
// a result. The executor counts it toward group completion and progress but
// collects nothing and does not treat it as a failure. The engine returns it
// from trials whose task callable failed, keeping the failure isolated to
// that trial.
var ErrSkipResult = errors.New("task completed without a result")

// Task is one unit of submitted work.
type Task[T any] func() (T, error)

// StreamingExecutor runs independently submitted tasks on a bounded worker
// pool. Tasks are accepted incrementally; the total count never needs to be
// known up front. Submission never blocks: each task runs in its own
// goroutine that acquires a semaphore slot before executing.
//
// Tasks may be grouped: a group of K tasks advances progress by exactly one
// once all K complete. SetGroupSize must be called before the first Submit
// for that group, otherwise the last task's completion callback could fire
// before the group's size is known.
//
// One mutex guards all completion bookkeeping (results list, per-score
// running totals, group counters, progress) because those updates always
// happen together and each critical section is a handful of map and slice
// operations.
type StreamingExecutor[T any] struct {
	workers  int
	sem      chan struct{}
	progress ProgressReporter
	logger   utils.Logger
	wg       sync.WaitGroup

	mu          sync.Mutex
	results     []T
	firstErr    error
	completed   int
	groupSizes  map[string]int
	groupDone   map[string]int
	scoreSums   map[string]float64
	scoreCounts map[string]int
}

// NewStreamingExecutor creates an executor with the given pool size. The
// progress reporter is owned by the executor from this point on; Close
// releases it together with the pool.
func NewStreamingExecutor[T any](workers int, progress ProgressReporter, logger utils.Logger) *StreamingExecutor[T] {
	if workers < 1 {
		workers = 1
	}
	if progress == nil {
		progress = NopProgress{}
	}
	return &StreamingExecutor[T]{
		workers:     workers,
		sem:         make(chan struct{}, workers),
		progress:    progress,
		logger:      logger,
		groupSizes:  make(map[string]int),
		groupDone:   make(map[string]int),
		scoreSums:   make(map[string]float64),
		scoreCounts: make(map[string]int),
	}
}

// SetGroupSize declares how many tasks belong to groupID. Must precede any
// Submit for that group.
func (e *StreamingExecutor[T]) SetGroupSize(groupID string, size int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.groupSizes[groupID] = size
}

// Submit enqueues a task. An empty groupID means the task advances progress
// individually. With a single worker the task runs synchronously on the
// calling goroutine; the progress and ordering contract is identical.
func (e *StreamingExecutor[T]) Submit(task Task[T], groupID string) {
	e.wg.Add(1)
	if e.workers == 1 {
		e.execute(task, groupID)
		return
	}
	go func() {
		e.sem <- struct{}{}
		defer func() { <-e.sem }()
		e.execute(task, groupID)
	}()
}

func (e *StreamingExecutor[T]) execute(task Task[T], groupID string) {
	defer e.wg.Done()

	result, err := e.runTask(task)
	e.complete(result, err, groupID)
}

// runTask invokes the task, converting a panic into an error so a
// misbehaving task cannot take down the pool.
func (e *StreamingExecutor[T]) runTask(task Task[T]) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task()
}

func (e *StreamingExecutor[T]) complete(result T, err error, groupID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case err == nil:
		e.results = append(e.results, result)
		e.recordScores(result)
	case errors.Is(err, ErrSkipResult):
		// Terminal but resultless; still counts toward completion.
	default:
		if e.firstErr == nil {
			e.firstErr = err
		}
		if e.logger != nil {
			e.logger.Error("task failed", "error", err)
		}
	}

	if groupID == "" {
		e.completed++
	} else {
		e.groupDone[groupID]++
		if e.groupDone[groupID] != e.groupSizes[groupID] {
			return
		}
		e.completed++
	}
	e.progress.Advance(e.completed, e.runningAverages())
}

// recordScores updates the per-score running totals when the result shape
// supports it. Display-only; results that expose no scores are fine.
func (e *StreamingExecutor[T]) recordScores(result T) {
	carrier, ok := any(result).(interface{ ScoreValues() map[string]float64 })
	if !ok {
		return
	}
	for name, value := range carrier.ScoreValues() {
		e.scoreSums[name] += value
		e.scoreCounts[name]++
	}
}

func (e *StreamingExecutor[T]) runningAverages() map[string]float64 {
	averages := make(map[string]float64, len(e.scoreSums))
	for name, sum := range e.scoreSums {
		averages[name] = sum / float64(e.scoreCounts[name])
	}
	return averages
}

// GetResults blocks until every submitted task reaches a terminal state. It
// returns the collected results in completion order; callers needing item
// identity use the fields embedded in each result, never position. When any
// task failed, the first recorded failure is returned after all tasks have
// finished.
func (e *StreamingExecutor[T]) GetResults() ([]T, error) {
	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.firstErr != nil {
		return nil, e.firstErr
	}
	return append([]T{}, e.results...), nil
}

// Close releases the progress display. The pool and the display are one
// scoped acquisition: Close runs on every exit path, success or not.
func (e *StreamingExecutor[T]) Close() {
	e.wg.Wait()
	e.progress.Done()
}
