package apply

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/randalmurphal/mend/internal/lint"
)

// SuggestionsFromMetadata decodes a work item's "suggestions" metadata,
// which is []lint.Suggestion in memory and a list of objects once reloaded.
func SuggestionsFromMetadata(v any) []lint.Suggestion {
	switch s := v.(type) {
	case nil:
		return nil
	case []lint.Suggestion:
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out []lint.Suggestion
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// ApplySuggestions replaces the first occurrence of each suggestion's text
// in file and writes the result. It returns the number applied; zero means
// the file was left untouched.
func ApplySuggestions(a *Applier, file string, suggestions []lint.Suggestion) (int, error) {
	content, exists, err := a.Read(file)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("suggestion target %s does not exist", file)
	}

	updated := content
	applied := 0
	for _, s := range suggestions {
		if s.Suggestion == "" || !strings.Contains(updated, s.Suggestion) {
			continue
		}
		updated = strings.Replace(updated, s.Suggestion, s.Replacement, 1)
		applied++
	}
	if updated == content {
		return 0, nil
	}
	if err := a.Apply(file, updated); err != nil {
		return 0, err
	}
	return applied, nil
}
