package apply

import (
	"errors"
	"strings"

	"github.com/randalmurphal/mend/internal/llmutil"
)

var (
	// ErrPlaceholder rejects content that elides code with a marker.
	ErrPlaceholder = errors.New("content contains a placeholder")
	// ErrTooShort rejects content under half the original's line count.
	ErrTooShort = errors.New("content is less than half the original length")
)

// CheckContent validates proposed full-file content against the original.
// An empty original means a new file, which only gets the placeholder check.
func CheckContent(original, proposed string) error {
	if llmutil.HasPlaceholder(proposed) {
		return ErrPlaceholder
	}
	if original == "" {
		return nil
	}
	if countLines(proposed)*2 < countLines(original) {
		return ErrTooShort
	}
	return nil
}

func countLines(s string) int {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
