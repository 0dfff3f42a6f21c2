// Package llmutil parses model output defensively: JSON payloads, fenced
// file blocks and truncation placeholders.
package llmutil

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoJSON is returned when no candidate in the response parses as JSON.
var ErrNoJSON = errors.New("no valid JSON found in response")

var (
	jsonFenceRe    = regexp.MustCompile("(?s)```json[ \t]*\r?\n?(.*?)```")
	genericFenceRe = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n?(.*?)```")
)

// ExtractJSON returns the first valid JSON document found by, in order:
// a ```json fence, any fence whose body starts with [ or {, a scan for a
// top-level array, and finally the whole trimmed response.
func ExtractJSON(text string) (string, error) {
	for _, candidate := range jsonCandidates(text) {
		if candidate != "" && gjson.Valid(candidate) {
			return candidate, nil
		}
	}
	return "", ErrNoJSON
}

func jsonCandidates(text string) []string {
	var out []string
	for _, m := range jsonFenceRe.FindAllStringSubmatch(text, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	for _, m := range genericFenceRe.FindAllStringSubmatch(text, -1) {
		body := strings.TrimSpace(m[1])
		if strings.HasPrefix(body, "[") || strings.HasPrefix(body, "{") {
			out = append(out, body)
		}
	}
	if arr := scanArray(text); arr != "" {
		out = append(out, arr)
	}
	out = append(out, strings.TrimSpace(text))
	return out
}

// ExtractObjects extracts a list of JSON objects from a response.
// An object carrying an "items" array is unwrapped; any other single object
// is treated as a one-element list. Elements that are not objects are
// dropped.
func ExtractObjects(text string) ([]json.RawMessage, error) {
	doc, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}

	root := gjson.Parse(doc)
	if root.IsObject() {
		if items := root.Get("items"); items.IsArray() {
			root = items
		} else {
			return []json.RawMessage{json.RawMessage(root.Raw)}, nil
		}
	}
	if !root.IsArray() {
		return nil, nil
	}

	var objects []json.RawMessage
	root.ForEach(func(_, value gjson.Result) bool {
		if value.IsObject() {
			objects = append(objects, json.RawMessage(value.Raw))
		}
		return true
	})
	return objects, nil
}

// scanArray returns the first bracket-balanced [...] span in text that is
// valid JSON. String literals are skipped so brackets inside them do not
// count.
func scanArray(text string) string {
	for start := strings.IndexByte(text, '['); start >= 0; {
		if end := matchBracket(text, start); end > start {
			if candidate := text[start : end+1]; gjson.Valid(candidate) {
				return candidate
			}
		}
		next := strings.IndexByte(text[start+1:], '[')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return ""
}

// matchBracket returns the index of the ']' closing the '[' at start, or -1.
func matchBracket(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
