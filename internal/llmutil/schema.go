package llmutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/mend/internal/llm"
)

// ObjectsResult holds the objects parsed from a generation along with the
// raw response text, which callers dump when parsing fails.
type ObjectsResult struct {
	Objects []json.RawMessage
	Raw     string
}

// ErrEmptyResponse is returned when the generator produced no text.
var ErrEmptyResponse = errors.New("empty response from generator")

// GenerateObjects runs one generation and extracts a list of JSON objects
// from the response with ExtractObjects.
//
// The result is non-nil whenever the generator returned, so the raw text is
// available even when parsing fails. Returns error if:
//   - the generator fails
//   - the response is empty
//   - no JSON array or object can be found
func GenerateObjects(ctx context.Context, gen llm.Generator, req llm.Request) (*ObjectsResult, error) {
	raw, err := gen.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	result := &ObjectsResult{Raw: raw}
	if strings.TrimSpace(raw) == "" {
		return result, ErrEmptyResponse
	}

	objects, err := ExtractObjects(raw)
	if err != nil {
		return result, fmt.Errorf("parse response (content=%q): %w", truncateForError(raw, 200), err)
	}
	result.Objects = objects
	return result, nil
}

// truncateForError truncates content for error messages.
func truncateForError(content string, maxLen int) string {
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "...[truncated]"
}
