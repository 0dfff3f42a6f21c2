package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	mendErrors "github.com/randalmurphal/mend/internal/errors"
	"github.com/randalmurphal/mend/internal/util"
)

// Options configures a Ledger.
type Options struct {
	// PruneCompleted drops completed items on save, remembering their ids
	// in the PrunedPath sidecar.
	PruneCompleted bool
	Logger         *slog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Ledger owns the ordered work items of one category.
// It is not safe for concurrent use; mend runs one writer per repository.
type Ledger struct {
	root     string
	category Category
	items    []*Item
	opts     Options
	logger   *slog.Logger

	// pruned holds ids of completed items dropped by PruneCompleted, and
	// lastSeq the highest sequence number ever assigned.
	pruned  map[string]bool
	lastSeq int
}

// pruneRecord is the sidecar kept next to a pruned ledger.
type pruneRecord struct {
	LastID    int      `json:"last_id"`
	Completed []string `json:"completed"`
}

// NextReason explains why NextItem returned nil. Used for logging only.
type NextReason string

const (
	ReasonFound   NextReason = "found"
	ReasonEmpty   NextReason = "empty"
	ReasonBlocked NextReason = "blocked"
)

// JSONPath returns the ledger's source-of-truth path.
func JSONPath(root string, category Category) string {
	return filepath.Join(root, ".todo_"+string(category)+".json")
}

// MarkdownPath returns the ledger's rendered summary path.
func MarkdownPath(root string, category Category) string {
	return filepath.Join(root, "TODO_"+strings.ToUpper(string(category))+".md")
}

// PrunedPath returns the sidecar that remembers pruned completed items.
func PrunedPath(root string, category Category) string {
	return filepath.Join(root, ".todo_"+string(category)+".pruned.json")
}

// IsLedgerFile reports whether a repository-relative path is one of the
// ledger artifacts.
func IsLedgerFile(rel string) bool {
	base := filepath.Base(rel)
	return (strings.HasPrefix(base, ".todo_") && strings.HasSuffix(base, ".json")) ||
		(strings.HasPrefix(base, "TODO_") && strings.HasSuffix(base, ".md"))
}

// Load reads the ledger for category under root. A missing or corrupt file
// yields an empty ledger; only other I/O errors are returned.
func Load(root string, category Category, opts Options) (*Ledger, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Ledger{
		root:     root,
		category: category,
		opts:     opts,
		logger:   opts.Logger.With("ledger", string(category)),
		pruned:   map[string]bool{},
	}

	var rec pruneRecord
	if _, err := util.ReadJSON(PrunedPath(root, category), &rec); err != nil {
		l.logger.Warn("ignoring unreadable prune record", "error", err)
	} else {
		l.lastSeq = rec.LastID
		for _, id := range rec.Completed {
			l.pruned[id] = true
		}
	}

	path := JSONPath(root, category)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Debug("no ledger file, starting empty", "path", path)
			return l, nil
		}
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}

	var items []*Item
	if err := json.Unmarshal(data, &items); err != nil {
		l.logger.Warn("corrupt ledger, starting empty", "path", path, "error", err)
		return l, nil
	}

	for _, it := range items {
		if it == nil || it.ID == "" {
			continue
		}
		l.normalize(it)
		l.items = append(l.items, it)
	}
	l.logger.Debug("loaded ledger", "items", len(l.items))
	return l, nil
}

// normalize enforces the item invariants on load.
func (l *Ledger) normalize(it *Item) {
	if it.Category == "" {
		it.Category = l.category
	}
	if it.Status == "" {
		it.Status = StatusNotStarted
	}
	if it.Priority == "" {
		it.Priority = PriorityMedium
	}
	if it.ConsecutiveFailures >= MaxFailures && it.Status != StatusCompleted {
		it.Status = StatusFailed
	}
	switch it.Status {
	case StatusCompleted, StatusFailed:
		if it.CompletedAt == nil {
			now := l.opts.Now()
			it.CompletedAt = &now
		}
	default:
		it.CompletedAt = nil
	}
}

// Category returns the ledger's category.
func (l *Ledger) Category() Category {
	return l.category
}

// Save writes the JSON file then the Markdown summary, each atomically.
func (l *Ledger) Save() error {
	if l.opts.PruneCompleted {
		l.noteSequence()
		kept := l.items[:0]
		for _, it := range l.items {
			if it.Status == StatusCompleted {
				l.pruned[it.ID] = true
				continue
			}
			kept = append(kept, it)
		}
		l.items = kept
		if err := l.savePruneRecord(); err != nil {
			return err
		}
	}

	items := l.items
	if items == nil {
		items = []*Item{}
	}
	if err := util.AtomicWriteJSON(JSONPath(l.root, l.category), items); err != nil {
		return fmt.Errorf("save ledger %s: %w", l.category, err)
	}
	if err := util.AtomicWriteFile(MarkdownPath(l.root, l.category), []byte(l.renderMarkdown()), 0o644); err != nil {
		return fmt.Errorf("save ledger summary %s: %w", l.category, err)
	}
	return nil
}

func (l *Ledger) savePruneRecord() error {
	rec := pruneRecord{LastID: l.lastSeq, Completed: make([]string, 0, len(l.pruned))}
	for id := range l.pruned {
		rec.Completed = append(rec.Completed, id)
	}
	sort.Strings(rec.Completed)
	if err := util.AtomicWriteJSON(PrunedPath(l.root, l.category), rec); err != nil {
		return fmt.Errorf("save prune record %s: %w", l.category, err)
	}
	return nil
}

// AddItems inserts candidates and returns how many were added. With
// checkDuplicates, a candidate matching a completed item is skipped.
// Missing or colliding ids are replaced from the category sequence.
func (l *Ledger) AddItems(candidates []Item, checkDuplicates bool) int {
	added := 0
	for i := range candidates {
		cand := candidates[i].Clone()
		cand.Title = strings.TrimSpace(cand.Title)
		if cand.Title == "" {
			l.logger.Debug("skipping candidate without title")
			continue
		}
		cand.Category = l.category

		if checkDuplicates {
			if dup := l.findCompletedDuplicate(&cand); dup != nil {
				l.logger.Info("skipping duplicate", "title", cand.Title, "matches", dup.ID)
				continue
			}
		}

		if cand.ID == "" || l.find(cand.ID) != nil || l.pruned[cand.ID] {
			cand.ID = l.nextID()
		}
		if !isKnownStatus(cand.Status) || cand.Status == StatusInProgress {
			cand.Status = StatusNotStarted
		}
		if cand.Priority == "" {
			cand.Priority = PriorityMedium
		}
		if cand.CreatedAt.IsZero() {
			cand.CreatedAt = l.opts.Now()
		}
		l.normalize(&cand)

		l.items = append(l.items, &cand)
		added++
		l.logger.Info("added item", "item", cand.ID, "title", cand.Title, "priority", cand.Priority)
	}
	return added
}

func (l *Ledger) findCompletedDuplicate(cand *Item) *Item {
	for _, existing := range l.items {
		if existing.Status == StatusCompleted && cand.IsDuplicateOf(existing) {
			return existing
		}
	}
	return nil
}

func isKnownStatus(s Status) bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

var idNumberRe = regexp.MustCompile(`^([A-Za-z]+)-(\d+)$`)

// nextID returns "<PREFIX>-<NNN>" one past the largest number ever used,
// counting pruned items.
func (l *Ledger) nextID() string {
	l.noteSequence()
	l.lastSeq++
	return fmt.Sprintf("%s-%03d", l.category.Prefix(), l.lastSeq)
}

// noteSequence raises lastSeq to the largest number held by a current item.
func (l *Ledger) noteSequence() {
	prefix := l.category.Prefix()
	for _, it := range l.items {
		m := idNumberRe.FindStringSubmatch(it.ID)
		if len(m) != 3 || !strings.EqualFold(m[1], prefix) {
			continue
		}
		if n, err := strconv.Atoi(m[2]); err == nil && n > l.lastSeq {
			l.lastSeq = n
		}
	}
}

// NextItem returns the highest-priority eligible item: not-started, fewer
// than MaxFailures strikes, every dependency completed. Ties keep insertion
// order. The returned item is a copy.
func (l *Ledger) NextItem() (*Item, NextReason) {
	var candidates []*Item
	pending := 0
	for _, it := range l.items {
		if it.Status != StatusNotStarted || it.ConsecutiveFailures >= MaxFailures {
			continue
		}
		pending++
		if l.dependenciesMet(it) {
			candidates = append(candidates, it)
		}
	}
	if len(candidates) == 0 {
		if pending > 0 {
			l.logger.Warn("all remaining items have unmet dependencies", "pending", pending)
			return nil, ReasonBlocked
		}
		return nil, ReasonEmpty
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return PriorityRank(candidates[i].Priority) < PriorityRank(candidates[j].Priority)
	})
	next := candidates[0].Clone()
	return &next, ReasonFound
}

func (l *Ledger) dependenciesMet(it *Item) bool {
	for _, dep := range it.Dependencies {
		if l.pruned[dep] {
			continue
		}
		d := l.find(dep)
		if d == nil || d.Status != StatusCompleted {
			return false
		}
	}
	return true
}

func (l *Ledger) find(id string) *Item {
	for _, it := range l.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

func (l *Ledger) mustFind(id string) (*Item, error) {
	if it := l.find(id); it != nil {
		return it, nil
	}
	return nil, mendErrors.ErrItemNotFound(string(l.category), id)
}

// Get returns a copy of the item with id.
func (l *Ledger) Get(id string) (*Item, error) {
	it, err := l.mustFind(id)
	if err != nil {
		return nil, err
	}
	c := it.Clone()
	return &c, nil
}

// Update applies fn to the stored item, for metadata edits.
func (l *Ledger) Update(id string, fn func(*Item)) error {
	it, err := l.mustFind(id)
	if err != nil {
		return err
	}
	fn(it)
	return nil
}

// MarkInProgress moves an item to in-progress.
func (l *Ledger) MarkInProgress(id string) error {
	it, err := l.mustFind(id)
	if err != nil {
		return err
	}
	it.Status = StatusInProgress
	it.CompletedAt = nil
	l.logger.Info("marked in progress", "item", id)
	return nil
}

// MarkCompleted completes an item and clears its strikes.
func (l *Ledger) MarkCompleted(id string) error {
	it, err := l.mustFind(id)
	if err != nil {
		return err
	}
	now := l.opts.Now()
	it.Status = StatusCompleted
	it.CompletedAt = &now
	it.ConsecutiveFailures = 0
	l.logger.Info("marked completed", "item", id)
	return nil
}

// MarkFailed records a strike. At MaxFailures strikes, or when permanent,
// the item becomes failed; otherwise it returns to not-started for retry.
func (l *Ledger) MarkFailed(id string, permanent bool) error {
	it, err := l.mustFind(id)
	if err != nil {
		return err
	}
	it.ConsecutiveFailures++
	if permanent || it.ConsecutiveFailures >= MaxFailures {
		now := l.opts.Now()
		it.Status = StatusFailed
		it.CompletedAt = &now
		l.logger.Warn("marked failed", "item", id, "failures", it.ConsecutiveFailures, "permanent", permanent)
		return nil
	}
	it.Status = StatusNotStarted
	it.CompletedAt = nil
	l.logger.Info("marked for retry", "item", id, "failures", it.ConsecutiveFailures)
	return nil
}

// MarkNoOp records that the generated change was identical to the original.
// Strikes are untouched.
func (l *Ledger) MarkNoOp(id string) error {
	it, err := l.mustFind(id)
	if err != nil {
		return err
	}
	it.Status = StatusNoOp
	it.CompletedAt = nil
	l.logger.Info("marked no-op", "item", id)
	return nil
}

// ReviveNoOps returns no-op items to not-started and reports how many.
func (l *Ledger) ReviveNoOps() int {
	n := 0
	for _, it := range l.items {
		if it.Status == StatusNoOp {
			it.Status = StatusNotStarted
			n++
		}
	}
	if n > 0 {
		l.logger.Info("revived no-op items", "count", n)
	}
	return n
}

// ResetInProgress returns items stuck in-progress (from a crashed run) to
// not-started, keeping their strikes.
func (l *Ledger) ResetInProgress() int {
	n := 0
	for _, it := range l.items {
		if it.Status == StatusInProgress {
			it.Status = StatusNotStarted
			n++
		}
	}
	if n > 0 {
		l.logger.Warn("reset stuck in-progress items", "count", n)
	}
	return n
}

// CountByStatus counts items with status.
func (l *Ledger) CountByStatus(status Status) int {
	n := 0
	for _, it := range l.items {
		if it.Status == status {
			n++
		}
	}
	return n
}

// IDs returns every item id in insertion order.
func (l *Ledger) IDs() []string {
	ids := make([]string, 0, len(l.items))
	for _, it := range l.items {
		ids = append(ids, it.ID)
	}
	return ids
}

// Items returns copies of every item in insertion order.
func (l *Ledger) Items() []Item {
	out := make([]Item, 0, len(l.items))
	for _, it := range l.items {
		out = append(out, it.Clone())
	}
	return out
}

// Len returns the number of items.
func (l *Ledger) Len() int {
	return len(l.items)
}
