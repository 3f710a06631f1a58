// Package llm is a thin adapter over model-provider completion APIs: request
// building, retries with backoff, client-side rate limiting, and token-usage
// accounting. The evaluation engine treats it as an opaque collaborator.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/time/rate"

	"github.com/teilomillet/promptopt/config"
	"github.com/teilomillet/promptopt/utils"
)

// LLM is the completion interface used by task callables and judge metrics.
type LLM interface {
	Generate(ctx context.Context, prompt string) (*Response, error)
	GenerateWithSchema(ctx context.Context, prompt string, schemaTarget any) (*Response, error)
	SetOption(key string, value any)
	GetLogger() utils.Logger
}

// LLMImpl is the default LLM implementation. The rate limiter is constructed
// once here and shared by every call made through this instance; there is no
// package-level limiter state. Retry state is per call: generate builds a
// fresh strategy from newRetry, so concurrent Generate calls never share a
// mutable attempt counter.
type LLMImpl struct {
	Provider Provider
	client   *http.Client
	logger   utils.Logger
	limiter  *rate.Limiter
	newRetry func() RetryStrategy

	optionsMu sync.RWMutex
	options   map[string]any
}

func NewLLM(cfg *config.Config, logger utils.Logger, registry *ProviderRegistry) (LLM, error) {
	provider, err := registry.Get(cfg.Provider, cfg.APIKeys[cfg.Provider], cfg.Model, cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)
	}

	return &LLMImpl{
		Provider: provider,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
		limiter:  limiter,
		newRetry: func() RetryStrategy {
			return &DefaultRetryStrategy{
				MaxRetries:  cfg.MaxRetries,
				InitialWait: cfg.RetryDelay,
				MaxWait:     cfg.RetryDelay * 16,
			}
		},
		options: make(map[string]any),
	}, nil
}

func (l *LLMImpl) SetOption(key string, value any) {
	l.optionsMu.Lock()
	l.options[key] = value
	l.optionsMu.Unlock()
	l.logger.Debug("Option set", key, value)
}

func (l *LLMImpl) GetLogger() utils.Logger {
	return l.logger
}

func (l *LLMImpl) Generate(ctx context.Context, prompt string) (*Response, error) {
	return l.generate(ctx, prompt, nil)
}

func (l *LLMImpl) GenerateWithSchema(ctx context.Context, prompt string, schemaTarget any) (*Response, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(schemaTarget)
	return l.generate(ctx, prompt, schema)
}

func (l *LLMImpl) generate(ctx context.Context, prompt string, schema *jsonschema.Schema) (*Response, error) {
	retry := l.newRetry()
	var lastErr error
	for attempt := 0; ; attempt++ {
		l.logger.Debug("Generating text", "provider", l.Provider.Name(), "attempt", attempt+1)

		response, err := l.attemptGenerate(ctx, prompt, schema)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if !retry.ShouldRetry(err) {
			break
		}
		delay := retry.NextDelay()
		l.logger.Warn("Generation failed, retrying", "error", err, "delay", delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("failed to generate: %w", lastErr)
}

func (l *LLMImpl) attemptGenerate(ctx context.Context, prompt string, schema *jsonschema.Schema) (*Response, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, NewLLMError(ErrorTypeRequest, "rate limiter wait failed", err)
		}
	}

	l.optionsMu.RLock()
	options := make(map[string]any, len(l.options))
	for k, v := range l.options {
		options[k] = v
	}
	l.optionsMu.RUnlock()

	body, err := l.Provider.PrepareRequest(prompt, schema, options)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.Provider.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, NewLLMError(ErrorTypeRequest, "failed to create request", err)
	}
	for k, v := range l.Provider.Headers() {
		req.Header.Set(k, v)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, NewLLMError(ErrorTypeRequest, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewLLMError(ErrorTypeResponse, "failed to read response body", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, NewLLMError(ErrorTypeRateLimit,
			fmt.Sprintf("provider %s rejected request", l.Provider.Name()), nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, NewLLMError(ErrorTypeAuthentication,
			fmt.Sprintf("authentication failed with status %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, NewLLMError(ErrorTypeAPI,
			fmt.Sprintf("API error: status %d, body: %s", resp.StatusCode, string(respBody)), nil)
	}

	response, err := l.Provider.ParseResponse(respBody)
	if err != nil {
		return nil, err
	}
	if response.Usage.TotalTokens == 0 {
		response.Usage = estimateUsage(response.Model, prompt, response.Content)
	}
	return response, nil
}

// estimateUsage counts tokens locally when the provider reports none, so
// token-based metrics still have data to score.
func estimateUsage(model, prompt, completion string) Usage {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return Usage{}
		}
	}
	promptTokens := len(encoding.Encode(prompt, nil, nil))
	completionTokens := len(encoding.Encode(completion, nil, nil))
	return Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}
