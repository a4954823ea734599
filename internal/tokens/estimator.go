// internal/tokens/estimator.go
package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator estimates token costs for budgeting decisions. It is pure and
// deterministic: the same text always yields the same count, and longer
// text never costs less. Counts are budget-grade approximations, not
// billing-grade accounting.
type Estimator struct {
	tokenizer *tiktoken.Tiktoken
}

// New creates an Estimator using the tokenizer for the given model.
func New(model string) (*Estimator, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Estimator{tokenizer: enc}, nil
}

// Estimate returns the token count for a string.
func (e *Estimator) Estimate(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}
