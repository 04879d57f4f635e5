package analysis

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/textpulse/internal/config"
	"github.com/microcosm-cc/bluemonday"
)

// Validator checks submissions against the configured text bounds and model
// catalog and strips unsafe HTML from accepted text.
type Validator struct {
	minLen  int
	maxLen  int
	catalog config.ModelCatalog
	policy  *bluemonday.Policy
}

func NewValidator(minLen, maxLen int, catalog config.ModelCatalog) *Validator {
	return &Validator{
		minLen:  minLen,
		maxLen:  maxLen,
		catalog: catalog,
		policy:  bluemonday.UGCPolicy(),
	}
}

// Validate returns the cleaned text and the model's per-job cost.
// Length is counted in characters after trimming surrounding whitespace.
func (v *Validator) Validate(text, model string) (string, float64, error) {
	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n < v.minLen || n > v.maxLen {
		return "", 0, &ValidationError{
			Field:   "text",
			Message: fmt.Sprintf("Text must be between %d and %d characters.", v.minLen, v.maxLen),
		}
	}

	clean := strings.TrimSpace(v.policy.Sanitize(text))
	if clean == "" {
		return "", 0, &ValidationError{Field: "text", Message: "Text must contain readable content."}
	}

	cost, ok := v.catalog.Cost(model)
	if !ok {
		return "", 0, &ValidationError{
			Field:   "model",
			Message: fmt.Sprintf("model must be one of %s", strings.Join(v.catalog.Names(), ", ")),
		}
	}
	return clean, cost, nil
}
