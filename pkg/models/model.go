package models

import "time"

// ModelInfo describes a registered model and its pricing. Costs are
// expressed per 1K tokens, with separate input and output rates.
type ModelInfo struct {
	ID              string   `json:"id" yaml:"id"`
	Name            string   `json:"name" yaml:"name"`
	InputTokenCost  float64  `json:"input_cost_per_1k" yaml:"input_cost_per_1k"`
	OutputTokenCost float64  `json:"output_cost_per_1k" yaml:"output_cost_per_1k"`
	ContextWindow   int      `json:"context_window" yaml:"context_window"`
	Features        []string `json:"features" yaml:"features"`
}

// HasFeatures reports whether the model carries every tag in want.
func (m ModelInfo) HasFeatures(want []string) bool {
	for _, w := range want {
		found := false
		for _, f := range m.Features {
			if f == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ModelChoice is the result of an affordability search: the selected model,
// its estimated charge, and the balance that would remain after the charge.
type ModelChoice struct {
	ModelID         string `json:"model_id"`
	RemainingTokens int64  `json:"remaining_tokens"`
	EstimatedCost   int64  `json:"estimated_cost"`
}

// CheckResult is the outcome of a model usage check. When Allowed is true
// the estimated cost has already been deducted from the user's bucket.
type CheckResult struct {
	Allowed         bool          `json:"allowed"`
	RemainingTokens int64         `json:"remaining_tokens"`
	EstimatedCost   int64         `json:"estimated_cost"`
	TimeUntilRefill time.Duration `json:"time_until_refill,omitempty"`
}
