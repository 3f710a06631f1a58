package llm

import (
	"errors"
	"time"
)

// RetryStrategy decides whether and when a failed request is retried. A
// strategy carries the attempt state of one request sequence; callers build a
// fresh one per call rather than sharing instances across goroutines.
type RetryStrategy interface {
	// ShouldRetry determines if a retry should be attempted.
	ShouldRetry(err error) bool

	// NextDelay returns the delay before the next retry.
	NextDelay() time.Duration
}

// DefaultRetryStrategy implements a simple exponential backoff strategy.
// Authentication and input errors are never retried; everything else is,
// up to MaxRetries attempts.
type DefaultRetryStrategy struct {
	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration
	attempts    int
}

func (s *DefaultRetryStrategy) ShouldRetry(err error) bool {
	if err == nil || s.attempts >= s.MaxRetries {
		return false
	}
	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		switch llmErr.Type {
		case ErrorTypeAuthentication, ErrorTypeInvalidInput:
			return false
		}
	}
	return true
}

const maxShiftAmount = 30 // cap at 2^30 to prevent overflow

func (s *DefaultRetryStrategy) NextDelay() time.Duration {
	s.attempts++
	shiftAmount := s.attempts - 1
	if shiftAmount > maxShiftAmount {
		shiftAmount = maxShiftAmount
	}
	delay := s.InitialWait * time.Duration(1<<shiftAmount)
	if delay > s.MaxWait {
		delay = s.MaxWait
	}
	return delay
}
