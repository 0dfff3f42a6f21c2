package analyzer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FileHeader formats the separator written before each file in a prompt.
func FileHeader(path string) string {
	return fmt.Sprintf("// ========== FILE: %s ==========", path)
}

// FormatFile renders one file for a prompt.
func FormatFile(path, content string) string {
	return FileHeader(path) + "\n" + strings.TrimRight(content, "\n") + "\n\n"
}

// Selector picks repository files by doublestar globs.
type Selector struct {
	Include []string
	Exclude []string
	// First lists globs whose matches are ordered before everything else.
	First []string
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Collect walks root and returns matching regular files as slash-separated
// relative paths. Files matching First come first; each group is sorted.
func (s Selector) Collect(root string) ([]string, error) {
	var first, rest []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			// A directory is pruned when an exclude glob would match anything
			// beneath it.
			if d.Name() == ".git" || matchAny(s.Exclude, rel+"/_") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !matchAny(s.Include, rel) || matchAny(s.Exclude, rel) {
			return nil
		}
		if matchAny(s.First, rel) {
			first = append(first, rel)
		} else {
			rest = append(rest, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(first)
	sort.Strings(rest)
	return append(first, rest...), nil
}

// Budget bounds how much file content goes into one prompt.
type Budget struct {
	MaxBytes     int
	MaxFileBytes int
}

// Bundle concatenates files into prompt context until the budget is spent.
// Files over MaxFileBytes are skipped rather than cut, so the model never
// sees a truncated file. It returns the context and the files included.
func Bundle(root string, files []string, budget Budget) (string, []string) {
	var b strings.Builder
	var included []string
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		if budget.MaxFileBytes > 0 && len(data) > budget.MaxFileBytes {
			continue
		}
		section := FormatFile(rel, string(data))
		if budget.MaxBytes > 0 && b.Len()+len(section) > budget.MaxBytes {
			if len(included) == 0 {
				continue
			}
			break
		}
		b.WriteString(section)
		included = append(included, rel)
	}
	return b.String(), included
}
