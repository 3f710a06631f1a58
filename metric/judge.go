package metric

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/teilomillet/promptopt/llm"
)

const defaultJudgeTemplate = `You are an impartial judge. Rate how well the answer satisfies the question.

Question:
%s

Answer:
%s

Respond with a JSON object containing "score" (0.0 to 1.0) and "reason".`

// judgeVerdict is the structured response requested from the judge model.
type judgeVerdict struct {
	Score  float64 `json:"score" validate:"min=0,max=1"`
	Reason string  `json:"reason" validate:"required"`
}

var judgeValidate = validator.New()

// LLMJudge scores task output by asking a model for a structured verdict.
type LLMJudge struct {
	InputKey  string
	OutputKey string
	Template  string
	client    llm.LLM
}

func NewLLMJudge(client llm.LLM) *LLMJudge {
	return &LLMJudge{
		InputKey:  "input",
		OutputKey: "output",
		Template:  defaultJudgeTemplate,
		client:    client,
	}
}

func (m *LLMJudge) Name() string { return "llm_judge" }

func (m *LLMJudge) RequiredFields() []string {
	return []string{m.InputKey, m.OutputKey}
}

func (m *LLMJudge) Score(ctx context.Context, inputs map[string]any) ([]ScoreResult, error) {
	question, err := stringField(inputs, m.InputKey)
	if err != nil {
		return nil, err
	}
	answer, err := stringField(inputs, m.OutputKey)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(m.Template, question, answer)
	response, err := m.client.GenerateWithSchema(ctx, prompt, &judgeVerdict{})
	if err != nil {
		return nil, fmt.Errorf("judge call failed: %w", err)
	}

	var verdict judgeVerdict
	content := strings.TrimSpace(response.Content)
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return nil, fmt.Errorf("judge returned malformed verdict: %w", err)
	}
	if err := judgeValidate.Struct(&verdict); err != nil {
		return nil, fmt.Errorf("judge verdict out of range: %w", err)
	}

	return SingleScore(ScoreResult{
		Name:   m.Name(),
		Value:  verdict.Score,
		Reason: verdict.Reason,
		Metadata: map[string]any{
			"judge_model": response.Model,
		},
	}), nil
}
