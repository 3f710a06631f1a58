package llm

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider speaks the OpenAI chat-completions protocol, which most
// self-hosted gateways also accept.
type OpenAIProvider struct {
	apiKey   string
	model    string
	endpoint string
}

func NewOpenAIProvider(apiKey, model, endpoint string) Provider {
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	return &OpenAIProvider{
		apiKey:   apiKey,
		model:    model,
		endpoint: endpoint,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Endpoint() string {
	return p.endpoint
}

func (p *OpenAIProvider) Headers() map[string]string {
	return map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + p.apiKey,
	}
}

func (p *OpenAIProvider) PrepareRequest(prompt string, schema *jsonschema.Schema, options map[string]any) ([]byte, error) {
	request := map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	for k, v := range options {
		request[k] = v
	}

	if schema != nil {
		request["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "response",
				"schema": schema,
				"strict": true,
			},
		}
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, NewLLMError(ErrorTypeRequest, "failed to marshal request", err)
	}
	return body, nil
}

func (p *OpenAIProvider) ParseResponse(body []byte) (*Response, error) {
	var response struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, NewLLMError(ErrorTypeResponse, "failed to parse response", err)
	}
	if len(response.Choices) == 0 {
		return nil, NewLLMError(ErrorTypeResponse, fmt.Sprintf("empty response from %s", p.Name()), nil)
	}
	return &Response{
		Content: response.Choices[0].Message.Content,
		Model:   response.Model,
		Usage: Usage{
			PromptTokens:     response.Usage.PromptTokens,
			CompletionTokens: response.Usage.CompletionTokens,
			TotalTokens:      response.Usage.TotalTokens,
		},
	}, nil
}
