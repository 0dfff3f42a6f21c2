// Package prompt resolves and renders the markdown prompt templates sent to
// the generator.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/mend/templates"
)

// Source identifies where a prompt was loaded from.
type Source string

const (
	SourcePersonal Source = "personal" // ~/.mend/prompts/
	SourceProject  Source = "project"  // <prompts.dir>
	SourceEmbedded Source = "embedded"
)

// ErrNotFound is returned when no source has the prompt.
var ErrNotFound = errors.New("prompt not found")

// Resolved contains the resolved prompt content and where it came from.
type Resolved struct {
	Content string `json:"content"`
	Source  Source `json:"source"`
	// Extended is set when an override inherited the embedded prompt.
	Extended bool `json:"extended,omitempty"`
}

// Meta contains frontmatter metadata for prompt inheritance.
type Meta struct {
	Extends string `yaml:"extends"` // only "embedded" is supported
	Prepend string `yaml:"prepend"`
	Append  string `yaml:"append"`
}

// Resolver resolves prompts from override directories, falling back to the
// embedded templates.
type Resolver struct {
	personalDir string
	projectDir  string
	embedded    fs.FS
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithPersonalDir sets the personal prompts directory.
func WithPersonalDir(dir string) ResolverOption {
	return func(r *Resolver) {
		r.personalDir = dir
	}
}

// WithProjectDir sets the project prompts directory.
func WithProjectDir(dir string) ResolverOption {
	return func(r *Resolver) {
		r.projectDir = dir
	}
}

// WithEmbeddedFS replaces the embedded prompt set; nil disables it.
func WithEmbeddedFS(fsys fs.FS) ResolverOption {
	return func(r *Resolver) {
		r.embedded = fsys
	}
}

// NewResolver creates a Resolver. Embedded templates are enabled by default.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{embedded: templates.Prompts}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewProjectResolver creates a Resolver for a repository, with
// promptsDir relative to root unless absolute.
func NewProjectResolver(root, promptsDir string) *Resolver {
	if promptsDir != "" && !filepath.IsAbs(promptsDir) {
		promptsDir = filepath.Join(root, promptsDir)
	}
	opts := []ResolverOption{WithProjectDir(promptsDir)}
	if home, err := os.UserHomeDir(); err == nil {
		opts = append(opts, WithPersonalDir(filepath.Join(home, ".mend", "prompts")))
	}
	return NewResolver(opts...)
}

// ProjectDir returns the project override directory.
func (r *Resolver) ProjectDir() string {
	return r.projectDir
}

// Resolve returns the prompt content for name, checking sources in order:
// project, personal, embedded.
func (r *Resolver) Resolve(name string) (*Resolved, error) {
	filename := name + ".md"
	for _, s := range []struct {
		dir    string
		source Source
	}{
		{r.projectDir, SourceProject},
		{r.personalDir, SourcePersonal},
	} {
		if s.dir == "" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(s.dir, filename))
		if err != nil {
			continue
		}
		return r.withInheritance(string(content), s.source, name)
	}

	content, err := r.readEmbedded(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return &Resolved{Content: content, Source: SourceEmbedded}, nil
}

func (r *Resolver) withInheritance(content string, source Source, name string) (*Resolved, error) {
	meta, body := parseFrontmatter(content)
	if meta.Extends == "" {
		return &Resolved{Content: body, Source: source}, nil
	}
	if meta.Extends != string(SourceEmbedded) {
		return nil, fmt.Errorf("prompt %s: unknown extends value %q", name, meta.Extends)
	}

	parent, err := r.readEmbedded(name)
	if err != nil {
		return nil, fmt.Errorf("prompt %s extends embedded: %w", name, ErrNotFound)
	}

	var b strings.Builder
	if meta.Prepend != "" {
		b.WriteString(strings.TrimSpace(meta.Prepend))
		b.WriteString("\n\n")
	}
	b.WriteString(parent)
	if meta.Append != "" {
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(meta.Append))
	}
	if body = strings.TrimSpace(body); body != "" {
		b.WriteString("\n\n")
		b.WriteString(body)
	}
	return &Resolved{Content: b.String(), Source: source, Extended: true}, nil
}

func (r *Resolver) readEmbedded(name string) (string, error) {
	if r.embedded == nil {
		return "", fs.ErrNotExist
	}
	content, err := fs.ReadFile(r.embedded, "prompts/"+name+".md")
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// parseFrontmatter extracts YAML frontmatter from markdown content.
// Returns the parsed metadata and the body (content after frontmatter).
func parseFrontmatter(content string) (Meta, string) {
	var meta Meta
	if !strings.HasPrefix(content, "---") {
		return meta, content
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	var front, body strings.Builder
	inFront, closed := false, false
	lineNum := 0
	for scanner.Scan() {
		line := scanner.Text()
		lineNum++
		switch {
		case lineNum == 1 && line == "---":
			inFront = true
		case inFront && line == "---":
			inFront, closed = false, true
		case inFront:
			front.WriteString(line)
			front.WriteString("\n")
		default:
			body.WriteString(line)
			body.WriteString("\n")
		}
	}

	// Unclosed frontmatter is treated as plain content
	if !closed {
		return Meta{}, content
	}
	if err := yaml.Unmarshal([]byte(front.String()), &meta); err != nil {
		return Meta{}, content
	}
	return meta, body.String()
}
