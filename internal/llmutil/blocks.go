package llmutil

import (
	"path"
	"regexp"
	"strings"
)

// FileBlock is one complete file proposed by the model.
type FileBlock struct {
	Path    string
	Lang    string
	Content string
}

var (
	fenceRe      = regexp.MustCompile("(?s)```([A-Za-z0-9_+.-]*)[ \t]*\r?\n(.*?)\r?\n?```")
	pathPrefixRe = regexp.MustCompile(`(?i)^(file|path|filename)\s*:\s*`)
)

// knownFilenames are extensionless files that are still plausible targets.
var knownFilenames = map[string]bool{
	"Makefile":   true,
	"Dockerfile": true,
	"Justfile":   true,
	"LICENSE":    true,
	"Rakefile":   true,
	"Procfile":   true,
}

// ExtractFileBlocks finds file blocks in a response. Strategies, first hit
// wins: language-tagged fences, untagged fences, then the bare response.
// A block is kept only when its first line is a comment naming a plausible
// relative path. A later block for the same path replaces an earlier one.
func ExtractFileBlocks(text string) []FileBlock {
	var tagged, generic []FileBlock
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		block, ok := parseBlock(m[2])
		if !ok {
			continue
		}
		block.Lang = m[1]
		if m[1] != "" {
			tagged = append(tagged, block)
		} else {
			generic = append(generic, block)
		}
	}
	if len(tagged) > 0 {
		return dedupeBlocks(tagged)
	}
	if len(generic) > 0 {
		return dedupeBlocks(generic)
	}
	if !strings.Contains(text, "```") {
		if block, ok := parseBlock(strings.TrimSpace(text)); ok {
			return []FileBlock{block}
		}
	}
	return nil
}

func parseBlock(body string) (FileBlock, bool) {
	body = strings.TrimLeft(body, "\r\n")
	first, rest, _ := strings.Cut(body, "\n")
	p, ok := PathFromComment(first)
	if !ok {
		return FileBlock{}, false
	}
	content := strings.Trim(rest, "\r\n")
	if strings.TrimSpace(content) == "" {
		return FileBlock{}, false
	}
	return FileBlock{Path: p, Content: content + "\n"}, true
}

// PathFromComment returns the path named by a single-line comment such as
// "// src/lib.rs", "# app/main.py", "-- db/schema.sql" or "/* web/app.css */".
func PathFromComment(line string) (string, bool) {
	line = strings.TrimSpace(line)
	var inner string
	switch {
	case strings.HasPrefix(line, "/*") && strings.HasSuffix(line, "*/"):
		inner = strings.TrimSuffix(strings.TrimPrefix(line, "/*"), "*/")
	case strings.HasPrefix(line, "//"):
		inner = strings.TrimPrefix(line, "//")
	case strings.HasPrefix(line, "--"):
		inner = strings.TrimPrefix(line, "--")
	case strings.HasPrefix(line, "#") && !strings.HasPrefix(line, "#!") && !strings.HasPrefix(line, "#["):
		inner = strings.TrimPrefix(line, "#")
	default:
		return "", false
	}
	inner = strings.TrimSpace(inner)
	inner = pathPrefixRe.ReplaceAllString(inner, "")
	inner = strings.Trim(inner, "`\"'")
	if !IsPlausiblePath(inner) {
		return "", false
	}
	return path.Clean(inner), true
}

// IsPlausiblePath reports whether p looks like a repository-relative file
// path: no whitespace, not absolute, no parent escape, and either an
// extension or a well-known extensionless name.
func IsPlausiblePath(p string) bool {
	if p == "" || strings.ContainsAny(p, " \t\\") {
		return false
	}
	if path.IsAbs(p) || strings.HasPrefix(p, "~") {
		return false
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return false
	}
	base := path.Base(clean)
	if strings.Trim(base, ".") == "" {
		return false
	}
	if knownFilenames[base] {
		return true
	}
	ext := path.Ext(base)
	return len(ext) > 1 && ext != base
}

func dedupeBlocks(blocks []FileBlock) []FileBlock {
	index := make(map[string]int, len(blocks))
	var out []FileBlock
	for _, b := range blocks {
		if i, ok := index[b.Path]; ok {
			out[i] = b
			continue
		}
		index[b.Path] = len(out)
		out = append(out, b)
	}
	return out
}
