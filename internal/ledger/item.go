// Package ledger is the per-category work-item store: a JSON file that is
// the source of truth plus a Markdown summary regenerated on every save.
package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Category selects a ledger.
type Category string

const (
	Refactoring Category = "refactoring"
	Performance Category = "performance"
	Clippy      Category = "clippy"
	Features    Category = "features"
)

// AllCategories lists every ledger in workflow order.
var AllCategories = []Category{Refactoring, Performance, Clippy, Features}

var categoryPrefixes = map[Category]string{
	Refactoring: "REF",
	Performance: "PERF",
	Clippy:      "CLIP",
	Features:    "FEAT",
}

// Prefix returns the id prefix for the category.
func (c Category) Prefix() string {
	if p, ok := categoryPrefixes[c]; ok {
		return p
	}
	return "TODO"
}

var commitLabels = map[Category]string{
	Refactoring: "Refactor",
	Performance: "Perf",
	Clippy:      "Clippy",
	Features:    "Feature",
}

// CommitLabel returns the checkpoint commit subject label.
func (c Category) CommitLabel() string {
	if l, ok := commitLabels[c]; ok {
		return l
	}
	return "Change"
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := categoryPrefixes[c]; !ok {
		return "", fmt.Errorf("unknown category %q (want refactoring, performance, clippy or features)", s)
	}
	return c, nil
}

// Status is a work item's lifecycle state.
type Status string

const (
	StatusNotStarted Status = "not-started"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	// StatusNoOp marks an item whose generated change was identical to the
	// original. It does not count as a failure.
	StatusNoOp Status = "no-op"
)

// AllStatuses lists statuses in Markdown section order.
var AllStatuses = []Status{StatusInProgress, StatusNotStarted, StatusNoOp, StatusFailed, StatusCompleted}

// Priorities in rank order.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// PriorityRank returns 0 for critical through 3 for low. Unknown values rank
// as medium.
func PriorityRank(p string) int {
	switch strings.ToLower(p) {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// MaxFailures is the strike count at which an item becomes permanently failed.
const MaxFailures = 2

// Well-known metadata keys.
const (
	MetaCode        = "code"
	MetaFile        = "file"
	MetaLine        = "line"
	MetaColumn      = "column"
	MetaRendered    = "rendered"
	MetaSuggestions = "suggestions"
	MetaNoOpReason  = "noop_reason"
	MetaLastError   = "last_error"
)

// Item is one unit of proposed work.
//
// Fields not listed here are kept in Metadata and written back as top-level
// keys, so ledgers written by other tools round-trip.
type Item struct {
	ID                  string
	Title               string
	Priority            string
	Category            Category
	Description         string
	Status              Status
	CreatedAt           time.Time
	CompletedAt         *time.Time
	EstimatedComplexity string
	FilesAffected       []string
	Dependencies        []string
	ConsecutiveFailures int
	Metadata            map[string]any
}

// Clone returns a deep copy safe to hand to callers.
func (it *Item) Clone() Item {
	c := *it
	c.FilesAffected = append([]string(nil), it.FilesAffected...)
	c.Dependencies = append([]string(nil), it.Dependencies...)
	if it.CompletedAt != nil {
		t := *it.CompletedAt
		c.CompletedAt = &t
	}
	if it.Metadata != nil {
		c.Metadata = make(map[string]any, len(it.Metadata))
		for k, v := range it.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// MetaString returns a string metadata value.
func (it *Item) MetaString(key string) string {
	if s, ok := it.Metadata[key].(string); ok {
		return s
	}
	return ""
}

// MetaInt returns a numeric metadata value. JSON numbers decode as float64.
func (it *Item) MetaInt(key string) int {
	switch v := it.Metadata[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// SetMeta sets a metadata value.
func (it *Item) SetMeta(key string, v any) {
	if it.Metadata == nil {
		it.Metadata = make(map[string]any)
	}
	it.Metadata[key] = v
}

// IsDuplicateOf applies the duplicate rule: titles equal ignoring case, or
// the same category with an identical non-empty set of affected files.
func (it *Item) IsDuplicateOf(other *Item) bool {
	if strings.EqualFold(strings.TrimSpace(it.Title), strings.TrimSpace(other.Title)) && it.Title != "" {
		return true
	}
	if it.Category != other.Category || len(it.FilesAffected) == 0 || len(other.FilesAffected) == 0 {
		return false
	}
	return sameSet(it.FilesAffected, other.FilesAffected)
}

func sameSet(a, b []string) bool {
	sa := make(map[string]bool, len(a))
	for _, s := range a {
		sa[s] = true
	}
	sb := make(map[string]bool, len(b))
	for _, s := range b {
		sb[s] = true
	}
	if len(sa) != len(sb) {
		return false
	}
	for s := range sa {
		if !sb[s] {
			return false
		}
	}
	return true
}

var knownKeys = map[string]bool{
	"id": true, "title": true, "priority": true, "category": true, "description": true,
	"status": true, "created_at": true, "completed_at": true, "estimated_complexity": true,
	"files_affected": true, "dependencies": true, "consecutive_failures": true,
}

type itemJSON struct {
	ID                  string   `json:"id"`
	Title               string   `json:"title"`
	Priority            string   `json:"priority"`
	Category            Category `json:"category"`
	Description         string   `json:"description"`
	Status              Status   `json:"status"`
	CreatedAt           string   `json:"created_at"`
	CompletedAt         *string  `json:"completed_at"`
	EstimatedComplexity string   `json:"estimated_complexity"`
	FilesAffected       []string `json:"files_affected"`
	Dependencies        []string `json:"dependencies"`
	ConsecutiveFailures int      `json:"consecutive_failures"`
}

// MarshalJSON writes known fields first, then metadata keys in sorted order.
func (it Item) MarshalJSON() ([]byte, error) {
	out := itemJSON{
		ID:                  it.ID,
		Title:               it.Title,
		Priority:            it.Priority,
		Category:            it.Category,
		Description:         it.Description,
		Status:              it.Status,
		EstimatedComplexity: it.EstimatedComplexity,
		FilesAffected:       nonNil(it.FilesAffected),
		Dependencies:        nonNil(it.Dependencies),
		ConsecutiveFailures: it.ConsecutiveFailures,
	}
	if !it.CreatedAt.IsZero() {
		out.CreatedAt = it.CreatedAt.Format(time.RFC3339)
	}
	if it.CompletedAt != nil {
		s := it.CompletedAt.Format(time.RFC3339)
		out.CompletedAt = &s
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	if len(it.Metadata) == 0 {
		return data, nil
	}

	keys := make([]string, 0, len(it.Metadata))
	for k := range it.Metadata {
		if !knownKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	buf := data[:len(data)-1]
	for _, k := range keys {
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(it.Metadata[k])
		if err != nil {
			return nil, fmt.Errorf("metadata %s: %w", k, err)
		}
		buf = append(buf, ',')
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	return append(buf, '}'), nil
}

// UnmarshalJSON is lenient: model output and hand-edited ledgers may use a
// string where a list is expected, or timestamps without a zone.
func (it *Item) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*it = Item{}
	it.ID = rawString(raw["id"])
	it.Title = rawString(raw["title"])
	it.Priority = strings.ToLower(rawString(raw["priority"]))
	it.Category = Category(rawString(raw["category"]))
	it.Description = rawString(raw["description"])
	it.Status = Status(rawString(raw["status"]))
	it.EstimatedComplexity = rawString(raw["estimated_complexity"])
	it.FilesAffected = rawStrings(raw["files_affected"])
	it.Dependencies = rawStrings(raw["dependencies"])
	if v, ok := raw["consecutive_failures"]; ok {
		_ = json.Unmarshal(v, &it.ConsecutiveFailures)
	}
	if t, ok := parseTime(rawString(raw["created_at"])); ok {
		it.CreatedAt = t
	}
	if t, ok := parseTime(rawString(raw["completed_at"])); ok {
		it.CompletedAt = &t
	}

	for k, v := range raw {
		if knownKeys[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			continue
		}
		it.SetMeta(k, val)
	}
	return nil
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

func rawStrings(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return cleanList(list)
	}
	if s := rawString(raw); s != "" {
		return cleanList(strings.Split(s, ","))
	}
	return nil
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
