// Package lint parses the linter's structured diagnostic stream.
//
// The stream is one JSON object per line (cargo's --message-format=json);
// diagnostics live under "message" and are kept when their code starts with
// the configured prefix.
package lint

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/randalmurphal/mend/internal/toolchain"
)

// DefaultSampleSize caps the diagnostics handed to the analyzer.
const DefaultSampleSize = 50

// Suggestion is a machine-applicable fix: replace the first occurrence of
// Suggestion with Replacement.
type Suggestion struct {
	Suggestion  string `json:"suggestion"`
	Replacement string `json:"replacement"`
}

// Diagnostic is one lint finding at its primary span.
type Diagnostic struct {
	Code        string       `json:"code"`
	Message     string       `json:"message"`
	Level       string       `json:"level"`
	File        string       `json:"file"`
	Line        int          `json:"line"`
	Column      int          `json:"column"`
	Snippet     string       `json:"snippet,omitempty"`
	Rendered    string       `json:"rendered,omitempty"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
}

// Key identifies a diagnostic for deduplication.
func (d Diagnostic) Key() string {
	return d.Code + "\x00" + d.File
}

// Parse reads the stream and returns diagnostics whose code starts with
// prefix, in stream order. Lines that are not JSON are skipped.
func Parse(stream, prefix string) []Diagnostic {
	var out []Diagnostic
	sc := bufio.NewScanner(strings.NewReader(stream))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] != '{' || !gjson.Valid(line) {
			continue
		}
		msg := gjson.Get(line, "message")
		if !msg.Exists() {
			continue
		}
		code := msg.Get("code.code").String()
		if code == "" || !strings.HasPrefix(code, prefix) {
			continue
		}
		out = append(out, parseMessage(code, msg))
	}
	return out
}

func parseMessage(code string, msg gjson.Result) Diagnostic {
	d := Diagnostic{
		Code:     code,
		Message:  msg.Get("message").String(),
		Level:    msg.Get("level").String(),
		Rendered: msg.Get("rendered").String(),
	}

	spans := msg.Get("spans").Array()
	primary := gjson.Result{}
	for _, s := range spans {
		if s.Get("is_primary").Bool() {
			primary = s
			break
		}
	}
	if !primary.Exists() && len(spans) > 0 {
		primary = spans[0]
	}
	if primary.Exists() {
		d.File = primary.Get("file_name").String()
		d.Line = int(primary.Get("line_start").Int())
		d.Column = int(primary.Get("column_start").Int())
		d.Snippet = primary.Get("text.0.text").String()
	}

	d.Suggestions = collectSuggestions(msg)
	return d
}

// collectSuggestions gathers suggested replacements from the message and its
// children. The text being replaced is the highlighted part of a single-line
// span; multi-line spans are skipped since a literal find would be unreliable.
func collectSuggestions(msg gjson.Result) []Suggestion {
	var out []Suggestion
	seen := map[Suggestion]bool{}
	visit := func(spans gjson.Result) {
		spans.ForEach(func(_, s gjson.Result) bool {
			repl := s.Get("suggested_replacement")
			if repl.Type != gjson.String || s.Get("line_start").Int() != s.Get("line_end").Int() {
				return true
			}
			text := s.Get("text.0")
			line := text.Get("text").String()
			start := int(text.Get("highlight_start").Int()) - 1
			end := int(text.Get("highlight_end").Int()) - 1
			if start < 0 || end > len(line) || start >= end {
				return true
			}
			sug := Suggestion{Suggestion: line[start:end], Replacement: repl.String()}
			if !seen[sug] {
				seen[sug] = true
				out = append(out, sug)
			}
			return true
		})
	}
	visit(msg.Get("spans"))
	msg.Get("children").ForEach(func(_, child gjson.Result) bool {
		visit(child.Get("spans"))
		return true
	})
	return out
}

// Dedupe keeps the first diagnostic for each (code, file) pair.
func Dedupe(diags []Diagnostic) []Diagnostic {
	seen := make(map[string]bool, len(diags))
	out := make([]Diagnostic, 0, len(diags))
	for _, d := range diags {
		if seen[d.Key()] {
			continue
		}
		seen[d.Key()] = true
		out = append(out, d)
	}
	return out
}

// Sample returns at most n diagnostics. n <= 0 means DefaultSampleSize.
func Sample(diags []Diagnostic, n int) []Diagnostic {
	if n <= 0 {
		n = DefaultSampleSize
	}
	if len(diags) <= n {
		return diags
	}
	return diags[:n]
}

// Persists reports whether the same code is still reported at file:line.
// A line of 0 on either side matches any line in the file.
func Persists(diags []Diagnostic, code, file string, line int) bool {
	for _, d := range diags {
		if d.Code != code || d.File != file {
			continue
		}
		if line <= 0 || d.Line <= 0 || d.Line == line {
			return true
		}
	}
	return false
}

// Find returns the first diagnostic matching code and file, preferring an
// exact line match when line > 0.
func Find(diags []Diagnostic, code, file string, line int) (Diagnostic, bool) {
	var fallback *Diagnostic
	for i, d := range diags {
		if d.Code != code || d.File != file {
			continue
		}
		if line <= 0 || d.Line == line {
			return d, true
		}
		if fallback == nil {
			fallback = &diags[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Diagnostic{}, false
}

// Summary counts diagnostics per code, most frequent first.
func Summary(diags []Diagnostic) []CodeCount {
	counts := map[string]int{}
	for _, d := range diags {
		counts[d.Code]++
	}
	out := make([]CodeCount, 0, len(counts))
	for code, n := range counts {
		out = append(out, CodeCount{Code: code, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// CodeCount is one row of Summary.
type CodeCount struct {
	Code  string
	Count int
}

// Run executes the lint JSON command and parses its stdout. Exit 0 means no
// findings and 1 means some; any other exit, or a spawn failure, is an error.
func Run(ctx context.Context, runner toolchain.Runner, cmd toolchain.Command, prefix string) ([]Diagnostic, error) {
	res := runner.Run(ctx, cmd)
	if res.Err != nil {
		return nil, fmt.Errorf("run linter: %w", res.Err)
	}
	diags := Parse(res.Stdout, prefix)
	if res.ExitCode != 0 && res.ExitCode != 1 && len(diags) == 0 {
		return nil, fmt.Errorf("linter exited with code %d: %s", res.ExitCode, firstLines(res.Stderr, 5))
	}
	return diags, nil
}

func firstLines(s string, n int) string {
	lines := strings.SplitN(strings.TrimSpace(s), "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
