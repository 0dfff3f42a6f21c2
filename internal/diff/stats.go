// Package diff parses git diff statistics and unified diffs proposed by the
// generator.
package diff

import (
	"regexp"
	"strconv"
	"strings"
)

// Stats summarizes a diff.
type Stats struct {
	FilesChanged int `json:"files_changed"`
	Additions    int `json:"additions"`
	Deletions    int `json:"deletions"`
}

// Total returns insertions plus deletions, the size measure used for the
// large-diff reset.
func (s Stats) Total() int {
	return s.Additions + s.Deletions
}

// FileStat is one line of git diff --numstat output.
type FileStat struct {
	Path      string `json:"path"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Binary    bool   `json:"binary,omitempty"`
}

var (
	filesRe  = regexp.MustCompile(`(\d+)\s+files?\s+changed`)
	insertRe = regexp.MustCompile(`(\d+)\s+insertions?\(\+\)`)
	deleteRe = regexp.MustCompile(`(\d+)\s+deletions?\(-\)`)
	braceRe  = regexp.MustCompile(`\{([^}]*)\s+=>\s+([^}]*)\}`)
)

// ParseStats parses the summary line of git diff --stat or --shortstat.
// Example: " 5 files changed, 120 insertions(+), 45 deletions(-)"
// Only the last summary line is read so per-file lines never count twice.
func ParseStats(output string) Stats {
	var stats Stats
	lines := strings.Split(strings.TrimSpace(output), "\n")
	var summary string
	for i := len(lines) - 1; i >= 0; i-- {
		if filesRe.MatchString(lines[i]) {
			summary = lines[i]
			break
		}
	}
	if summary == "" {
		return stats
	}

	if m := filesRe.FindStringSubmatch(summary); len(m) > 1 {
		stats.FilesChanged, _ = strconv.Atoi(m[1])
	}
	if m := insertRe.FindStringSubmatch(summary); len(m) > 1 {
		stats.Additions, _ = strconv.Atoi(m[1])
	}
	if m := deleteRe.FindStringSubmatch(summary); len(m) > 1 {
		stats.Deletions, _ = strconv.Atoi(m[1])
	}
	return stats
}

// ParseNumstat parses git diff --numstat output.
// Format: additions<tab>deletions<tab>path
// Binary files show as: -<tab>-<tab>path
func ParseNumstat(output string) []FileStat {
	var files []FileStat
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) < 3 {
			continue
		}

		fs := FileStat{Path: parts[2]}
		if strings.Contains(fs.Path, " => ") {
			fs.Path = extractNewPath(fs.Path)
		}
		if parts[0] == "-" && parts[1] == "-" {
			fs.Binary = true
		} else {
			fs.Additions, _ = strconv.Atoi(parts[0])
			fs.Deletions, _ = strconv.Atoi(parts[1])
		}
		files = append(files, fs)
	}
	return files
}

// extractNewPath extracts the new path from git rename notation.
// Examples:
//   - "old.txt => new.txt" -> "new.txt"
//   - "dir/{old.txt => new.txt}" -> "dir/new.txt"
func extractNewPath(path string) string {
	if !strings.Contains(path, "{") {
		parts := strings.Split(path, " => ")
		if len(parts) == 2 {
			return strings.TrimSpace(parts[1])
		}
	}
	if m := braceRe.FindStringSubmatch(path); len(m) == 3 {
		return braceRe.ReplaceAllString(path, m[2])
	}
	return path
}
