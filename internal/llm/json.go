package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/TobiSchelling/shopscout/internal/schema"
)

// StripFences removes a surrounding markdown code block from a model answer.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	endIdx := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
}

// DecodeJSON decodes a model answer into out without validating it.
func DecodeJSON(text string, out any) error {
	text = StripFences(text)
	if text == "" {
		return fmt.Errorf("empty response: %w", schema.ErrValidation)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("decoding response: %w: %w", schema.ErrValidation, err)
	}
	return nil
}

// ParseJSON decodes a model answer into out and validates it. Both decode
// and validation failures match schema.ErrValidation.
func ParseJSON(text string, out any) error {
	if err := DecodeJSON(text, out); err != nil {
		return err
	}
	if v, ok := out.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CompleteJSON runs a completion in JSON mode and decodes the answer into out.
func CompleteJSON(ctx context.Context, c Completer, req Request, out any) error {
	req.JSON = true
	text, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}
	return ParseJSON(text, out)
}
