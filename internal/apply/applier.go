// Package apply writes generated file content into the working tree with
// exact rollback. It never stages or commits.
package apply

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/randalmurphal/mend/internal/util"
)

var (
	// ErrNoParentDir is returned when the target's directory does not exist.
	// The applier never creates directories.
	ErrNoParentDir = errors.New("parent directory does not exist")
	// ErrPathEscape is returned for absolute paths or paths leaving the root.
	ErrPathEscape = errors.New("path escapes repository root")
)

// snapshot is a file's state before the first write.
type snapshot struct {
	existed bool
	data    []byte
	mode    fs.FileMode
}

// Applier writes files under root and remembers how to undo every write.
type Applier struct {
	root      string
	snapshots map[string]snapshot
	logger    *slog.Logger
}

// Option configures an Applier.
type Option func(*Applier)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Applier) {
		a.logger = l
	}
}

// NewApplier creates an Applier rooted at root.
func NewApplier(root string, opts ...Option) *Applier {
	a := &Applier{
		root:      root,
		snapshots: make(map[string]snapshot),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Root returns the repository root.
func (a *Applier) Root() string {
	return a.root
}

// Resolve cleans a repository-relative path and returns it with its
// absolute form.
func (a *Applier) Resolve(rel string) (clean, abs string, err error) {
	rel = strings.TrimSpace(rel)
	if rel == "" || filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrPathEscape, rel)
	}
	clean = filepath.ToSlash(filepath.Clean(filepath.FromSlash(rel)))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", "", fmt.Errorf("%w: %q", ErrPathEscape, rel)
	}
	return clean, filepath.Join(a.root, filepath.FromSlash(clean)), nil
}

// Read returns the current content of rel, and false when it does not exist.
func (a *Applier) Read(rel string) (string, bool, error) {
	_, abs, err := a.Resolve(rel)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), true, nil
}

// Snapshot records rel's current state if it has not been recorded yet.
// Apply calls it implicitly; callers that modify files another way (git
// apply) call it first.
func (a *Applier) Snapshot(rel string) error {
	clean, abs, err := a.Resolve(rel)
	if err != nil {
		return err
	}
	if _, ok := a.snapshots[clean]; ok {
		return nil
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			a.snapshots[clean] = snapshot{existed: false}
			return nil
		}
		return fmt.Errorf("stat %s: %w", clean, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", clean)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", clean, err)
	}
	a.snapshots[clean] = snapshot{existed: true, data: data, mode: info.Mode().Perm()}
	return nil
}

// Apply writes content to rel. The parent directory must already exist.
func (a *Applier) Apply(rel, content string) error {
	clean, abs, err := a.Resolve(rel)
	if err != nil {
		return err
	}
	if !util.DirExists(filepath.Dir(abs)) {
		return fmt.Errorf("%w: %s", ErrNoParentDir, filepath.Dir(clean))
	}
	if err := a.Snapshot(clean); err != nil {
		return err
	}

	mode := fs.FileMode(0o644)
	if snap := a.snapshots[clean]; snap.existed {
		mode = snap.mode
	}
	if err := util.AtomicWriteFile(abs, []byte(content), mode); err != nil {
		return fmt.Errorf("write %s: %w", clean, err)
	}
	a.logger.Debug("applied file", "file", clean, "bytes", len(content))
	return nil
}

// Touched returns every path snapshotted so far, sorted.
func (a *Applier) Touched() []string {
	out := make([]string, 0, len(a.snapshots))
	for p := range a.snapshots {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Rollback restores every touched file to its snapshot: original bytes and
// mode for files that existed, removal for files that did not. Snapshots are
// cleared once all restores succeed.
func (a *Applier) Rollback() error {
	var errs []error
	for _, rel := range a.Touched() {
		snap := a.snapshots[rel]
		abs := filepath.Join(a.root, filepath.FromSlash(rel))
		if snap.existed {
			if err := util.AtomicWriteFile(abs, snap.data, snap.mode); err != nil {
				errs = append(errs, fmt.Errorf("restore %s: %w", rel, err))
				continue
			}
		} else if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", rel, err))
			continue
		}
		delete(a.snapshots, rel)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	a.logger.Debug("rolled back changes")
	return nil
}

// Forget drops every snapshot, accepting the current tree.
func (a *Applier) Forget() {
	a.snapshots = make(map[string]snapshot)
}
