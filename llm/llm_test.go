package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teilomillet/promptopt/config"
	"github.com/teilomillet/promptopt/utils"
)

func completionJSON(content string) string {
	return `{
		"model": "gpt-4o-mini",
		"choices": [{"message": {"content": ` + mustJSON(content) + `}}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
	}`
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func newTestLLM(t *testing.T, endpoint string) LLM {
	t.Helper()
	cfg := config.NewConfig()
	config.ApplyOptions(cfg,
		config.SetEndpoint(endpoint),
		config.SetAPIKey("sk-test"),
		config.SetMaxRetries(2),
		config.SetRetryDelay(time.Millisecond),
	)

	instance, err := NewLLM(cfg, utils.NewLogger(utils.LogLevelOff), NewProviderRegistry())
	require.NoError(t, err)
	return instance
}

func TestGenerateReturnsProviderContentAndUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Write([]byte(completionJSON("paris")))
	}))
	defer server.Close()

	response, err := newTestLLM(t, server.URL).Generate(context.Background(), "capital of france?")
	require.NoError(t, err)
	assert.Equal(t, "paris", response.Content)
	assert.Equal(t, 16, response.Usage.TotalTokens)
}

func TestGenerateRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(completionJSON("recovered")))
	}))
	defer server.Close()

	response, err := newTestLLM(t, server.URL).Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "recovered", response.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateRetryBudgetsAreIndependentPerCall(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	// MaxRetries is 2, so every call makes exactly 3 attempts. Concurrent
	// callers sharing one attempt counter would skew the total.
	instance := newTestLLM(t, server.URL)
	const callers = 4

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := instance.Generate(context.Background(), "hi")
			assert.Error(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(callers*3), calls.Load())
}

func TestGenerateMaps429ToRateLimitError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestLLM(t, server.URL).Generate(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, IsRateLimitError(err))
}

func TestGenerateDoesNotRetryAuthenticationFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestLLM(t, server.URL).Generate(context.Background(), "hi")
	require.Error(t, err)

	var llmErr *LLMError
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, ErrorTypeAuthentication, llmErr.Type)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateWithSchemaSendsResponseFormat(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(completionJSON(`{"score": 0.9, "reason": "close match"}`)))
	}))
	defer server.Close()

	type verdict struct {
		Score  float64 `json:"score"`
		Reason string  `json:"reason"`
	}

	_, err := newTestLLM(t, server.URL).GenerateWithSchema(context.Background(), "judge this", &verdict{})
	require.NoError(t, err)

	format, ok := captured["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
}

func TestSetOptionFlowsIntoRequestBody(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(completionJSON("ok")))
	}))
	defer server.Close()

	instance := newTestLLM(t, server.URL)
	instance.SetOption("temperature", 0.2)

	_, err := instance.Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, 0.2, captured["temperature"])
}

func TestParseResponseRejectsEmptyChoices(t *testing.T) {
	provider := NewOpenAIProvider("sk-test", "gpt-4o-mini", "")

	_, err := provider.ParseResponse([]byte(`{"model": "gpt-4o-mini", "choices": []}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response")
}

func TestProviderRegistryRejectsUnknownProvider(t *testing.T) {
	_, err := NewProviderRegistry().Get("nonexistent", "", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}
