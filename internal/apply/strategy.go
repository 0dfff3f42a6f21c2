package apply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/randalmurphal/mend/internal/diff"
	"github.com/randalmurphal/mend/internal/ledger"
	"github.com/randalmurphal/mend/internal/llmutil"
)

// ErrNothingUsable means the response held no change that passed validation.
var ErrNothingUsable = errors.New("no usable change in response")

// Rejection records why a proposed file was refused.
type Rejection struct {
	Path   string
	Reason error
}

// Result is what a strategy did with a response.
type Result struct {
	// Files lists every path written.
	Files []string
	// NoOp is true when every usable proposal matched the original exactly.
	// Nothing is written in that case.
	NoOp     bool
	Rejected []Rejection
}

// Strategy turns a model response into file changes through an Applier.
type Strategy interface {
	Name() string
	Apply(ctx context.Context, item *ledger.Item, response string) (Result, error)
}

// FullFileStrategy applies fenced complete-file blocks.
type FullFileStrategy struct {
	applier *Applier
	logger  *slog.Logger
}

// NewFullFileStrategy creates a FullFileStrategy.
func NewFullFileStrategy(a *Applier, logger *slog.Logger) *FullFileStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &FullFileStrategy{applier: a, logger: logger}
}

// Name implements Strategy.
func (s *FullFileStrategy) Name() string { return "full-file" }

// Apply implements Strategy.
func (s *FullFileStrategy) Apply(_ context.Context, item *ledger.Item, response string) (Result, error) {
	blocks := llmutil.ExtractFileBlocks(response)
	if len(blocks) == 0 {
		return Result{}, fmt.Errorf("%w: no file blocks", ErrNothingUsable)
	}
	res, err := ApplyBlocks(s.applier, blocks)
	for _, r := range res.Rejected {
		s.logger.Warn("rejected file block", "item", itemID(item), "file", r.Path, "reason", r.Reason)
	}
	return res, err
}

// ApplyBlocks validates each block against the file it replaces and writes
// the usable ones. When every usable block is byte-identical to its file,
// nothing is written and the result is a no-op.
func ApplyBlocks(a *Applier, blocks []llmutil.FileBlock) (Result, error) {
	var res Result
	type pending struct {
		path    string
		content string
	}
	var writes []pending
	usable := 0

	for _, b := range blocks {
		clean, _, err := a.Resolve(b.Path)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{Path: b.Path, Reason: err})
			continue
		}
		original, exists, err := a.Read(clean)
		if err != nil {
			return res, err
		}
		if err := CheckContent(original, b.Content); err != nil {
			res.Rejected = append(res.Rejected, Rejection{Path: clean, Reason: err})
			continue
		}
		usable++
		if exists && original == b.Content {
			continue
		}
		writes = append(writes, pending{path: clean, content: b.Content})
	}

	if usable == 0 {
		return res, fmt.Errorf("%w: all %d blocks rejected", ErrNothingUsable, len(blocks))
	}
	if len(writes) == 0 {
		res.NoOp = true
		return res, nil
	}

	for _, w := range writes {
		if err := a.Apply(w.path, w.content); err != nil {
			if errors.Is(err, ErrNoParentDir) {
				res.Rejected = append(res.Rejected, Rejection{Path: w.path, Reason: err})
				continue
			}
			return res, err
		}
		res.Files = append(res.Files, w.path)
	}
	if len(res.Files) == 0 {
		return res, fmt.Errorf("%w: no block could be written", ErrNothingUsable)
	}
	return res, nil
}

// PatchApplier applies a unified diff file to the working tree.
type PatchApplier interface {
	ApplyPatch(ctx context.Context, patchFile string) error
}

// PatchStrategy applies a unified diff with git apply. Every file the patch
// names is snapshotted first so the Applier can roll it back.
type PatchStrategy struct {
	applier *Applier
	git     PatchApplier
	logger  *slog.Logger
}

// NewPatchStrategy creates a PatchStrategy.
func NewPatchStrategy(a *Applier, git PatchApplier, logger *slog.Logger) *PatchStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &PatchStrategy{applier: a, git: git, logger: logger}
}

// Name implements Strategy.
func (s *PatchStrategy) Name() string { return "patch" }

// Apply implements Strategy.
func (s *PatchStrategy) Apply(ctx context.Context, item *ledger.Item, response string) (Result, error) {
	text := diff.ExtractPatch(response)
	if text == "" {
		return Result{}, fmt.Errorf("%w: no unified diff", ErrNothingUsable)
	}
	patch, err := diff.ParsePatch(text)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrNothingUsable, err)
	}

	var res Result
	changed := 0
	for _, f := range patch.Files {
		if f.Additions > 0 || f.Deletions > 0 || f.IsNew || f.IsDelete {
			changed++
		}
	}
	if changed == 0 {
		res.NoOp = true
		return res, nil
	}

	if llmutil.HasPlaceholder(addedLines(patch.Raw)) {
		return res, fmt.Errorf("%w: %v", ErrNothingUsable, ErrPlaceholder)
	}
	paths := patch.Paths()
	for _, p := range paths {
		if err := s.applier.Snapshot(p); err != nil {
			return res, fmt.Errorf("%w: %v", ErrNothingUsable, err)
		}
	}

	tmp, err := os.CreateTemp("", "mend-*.patch")
	if err != nil {
		return res, fmt.Errorf("create patch file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.WriteString(patch.Raw); err != nil {
		_ = tmp.Close()
		return res, fmt.Errorf("write patch file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return res, fmt.Errorf("close patch file: %w", err)
	}

	if err := s.git.ApplyPatch(ctx, tmp.Name()); err != nil {
		s.logger.Warn("patch did not apply", "item", itemID(item), "error", err)
		return res, fmt.Errorf("%w: %v", ErrNothingUsable, err)
	}
	res.Files = paths
	return res, nil
}

// addedLines returns the "+" lines of a patch without their marker.
func addedLines(raw string) string {
	var b strings.Builder
	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
			b.WriteString(line[1:])
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Chain tries strategies in order, moving on only when one finds nothing
// usable.
type Chain []Strategy

// Name implements Strategy.
func (c Chain) Name() string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// Apply implements Strategy.
func (c Chain) Apply(ctx context.Context, item *ledger.Item, response string) (Result, error) {
	var errs []error
	var rejected []Rejection
	for _, s := range c {
		res, err := s.Apply(ctx, item, response)
		if err == nil {
			res.Rejected = append(rejected, res.Rejected...)
			return res, nil
		}
		rejected = append(rejected, res.Rejected...)
		if !errors.Is(err, ErrNothingUsable) {
			return res, err
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return Result{Rejected: rejected}, errors.Join(errs...)
}

func itemID(item *ledger.Item) string {
	if item == nil {
		return ""
	}
	return item.ID
}
