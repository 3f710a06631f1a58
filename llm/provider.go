package llm

import (
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
)

// Usage holds token counts reported by a provider for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is a provider-agnostic completion result.
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// Provider adapts one model API. Implementations build the wire request and
// parse the wire response; transport, retries and rate limiting live in
// LLMImpl.
type Provider interface {
	Name() string
	Endpoint() string
	Headers() map[string]string
	PrepareRequest(prompt string, schema *jsonschema.Schema, options map[string]any) ([]byte, error)
	ParseResponse(body []byte) (*Response, error)
}

// ProviderConstructor creates a Provider from credentials and model name.
type ProviderConstructor func(apiKey, model, endpoint string) Provider

// ProviderRegistry maps provider names to constructors.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]ProviderConstructor
}

func NewProviderRegistry() *ProviderRegistry {
	registry := &ProviderRegistry{
		providers: make(map[string]ProviderConstructor),
	}
	registry.Register("openai", NewOpenAIProvider)
	return registry
}

func (r *ProviderRegistry) Register(name string, constructor ProviderConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = constructor
}

func (r *ProviderRegistry) Get(name, apiKey, model, endpoint string) (Provider, error) {
	r.mu.RLock()
	constructor, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, NewLLMError(ErrorTypeProvider, fmt.Sprintf("unknown provider: %s", name), nil)
	}
	return constructor(apiKey, model, endpoint), nil
}
