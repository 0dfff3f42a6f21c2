package llmutil

import "strings"

// placeholderPhrases mark truncated output; matched case-insensitively.
var placeholderPhrases = []string{
	"existing code",
	"rest of the code",
	"unchanged",
	"// (rest",
	"// ...",
	"/* ... */",
	"# ...",
}

// HasPlaceholder reports whether content contains a truncation marker.
// A bare "..." only counts when it stands alone on a line, so variadic
// parameters and range syntax do not trip it.
func HasPlaceholder(content string) bool {
	lower := strings.ToLower(content)
	for _, marker := range placeholderPhrases {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	for _, line := range strings.Split(content, "\n") {
		switch strings.TrimSpace(line) {
		case "...", "…":
			return true
		}
	}
	return false
}
