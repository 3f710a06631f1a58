package llm

import (
	"context"

	"github.com/teilomillet/promptopt/utils"
)

// MockLLM is a scripted LLM for tests. Unset function fields return an empty
// response.
type MockLLM struct {
	GenerateFunc           func(ctx context.Context, prompt string) (*Response, error)
	GenerateWithSchemaFunc func(ctx context.Context, prompt string, schemaTarget any) (*Response, error)
	Logger                 utils.Logger
}

func (m *MockLLM) Generate(ctx context.Context, prompt string) (*Response, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return &Response{}, nil
}

func (m *MockLLM) GenerateWithSchema(ctx context.Context, prompt string, schemaTarget any) (*Response, error) {
	if m.GenerateWithSchemaFunc != nil {
		return m.GenerateWithSchemaFunc(ctx, prompt, schemaTarget)
	}
	return &Response{}, nil
}

func (m *MockLLM) SetOption(key string, value any) {}

func (m *MockLLM) GetLogger() utils.Logger {
	if m.Logger == nil {
		return utils.NewLogger(utils.LogLevelOff)
	}
	return m.Logger
}
