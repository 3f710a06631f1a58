package evaluation

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/teilomillet/promptopt/dataset"
)

// ExecutionPolicy controls how an item is evaluated: how many repeated
// trials run and how many of them must pass for the item to count as
// successful.
type ExecutionPolicy struct {
	RunsPerItem   int `json:"runs_per_item" validate:"min=1"`
	PassThreshold int `json:"pass_threshold" validate:"min=1"`
}

// ExecutionPolicyOverride is a partial policy attached to a dataset item.
// Nil fields inherit from the suite default; set fields win field-by-field.
type ExecutionPolicyOverride struct {
	RunsPerItem   *int `json:"runs_per_item,omitempty"`
	PassThreshold *int `json:"pass_threshold,omitempty"`
}

var policyValidate = validator.New()

// Merged applies an override on top of the policy, field by field.
func (p ExecutionPolicy) Merged(override *ExecutionPolicyOverride) ExecutionPolicy {
	if override == nil {
		return p
	}
	merged := p
	if override.RunsPerItem != nil {
		merged.RunsPerItem = *override.RunsPerItem
	}
	if override.PassThreshold != nil {
		merged.PassThreshold = *override.PassThreshold
	}
	return merged
}

// Validate checks the policy's field constraints.
func (p ExecutionPolicy) Validate() error {
	if err := policyValidate.Struct(p); err != nil {
		return fmt.Errorf("invalid execution policy: %w", err)
	}
	return nil
}

// ResolvePolicy merges an item-level override, when present, over the
// default policy and validates the result. Called once per item right
// before its trials are dispatched.
func ResolvePolicy(defaultPolicy ExecutionPolicy, item dataset.Item) (ExecutionPolicy, error) {
	override, err := policyOverrideFromItem(item)
	if err != nil {
		return ExecutionPolicy{}, fmt.Errorf("item %q: %w", item.ID(), err)
	}
	resolved := defaultPolicy.Merged(override)
	if err := resolved.Validate(); err != nil {
		return ExecutionPolicy{}, fmt.Errorf("item %q: %w", item.ID(), err)
	}
	return resolved, nil
}

func policyOverrideFromItem(item dataset.Item) (*ExecutionPolicyOverride, error) {
	raw, ok := item[dataset.KeyExecutionPolicy]
	if !ok || raw == nil {
		return nil, nil
	}

	switch v := raw.(type) {
	case *ExecutionPolicyOverride:
		return v, nil
	case ExecutionPolicyOverride:
		return &v, nil
	case ExecutionPolicy:
		return &ExecutionPolicyOverride{
			RunsPerItem:   &v.RunsPerItem,
			PassThreshold: &v.PassThreshold,
		}, nil
	case map[string]any:
		return policyOverrideFromMap(v)
	default:
		return nil, fmt.Errorf("unsupported execution policy override type %T", raw)
	}
}

func policyOverrideFromMap(fields map[string]any) (*ExecutionPolicyOverride, error) {
	override := &ExecutionPolicyOverride{}
	for key, value := range fields {
		count, err := asInt(value)
		if err != nil {
			return nil, fmt.Errorf("execution policy field %q: %w", key, err)
		}
		switch key {
		case "runs_per_item":
			override.RunsPerItem = &count
		case "pass_threshold":
			override.PassThreshold = &count
		default:
			return nil, fmt.Errorf("unknown execution policy field %q", key)
		}
	}
	return override, nil
}

func asInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", value)
	}
}
