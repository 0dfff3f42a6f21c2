package diff

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

const devNull = "/dev/null"

// PatchFile describes one file section of a unified diff.
type PatchFile struct {
	OldPath   string
	NewPath   string
	IsNew     bool
	IsDelete  bool
	Additions int
	Deletions int
}

// Path returns the path the patch writes to, or the deleted path.
func (f PatchFile) Path() string {
	if f.IsDelete {
		return f.OldPath
	}
	return f.NewPath
}

// Patch is a parsed multi-file unified diff.
type Patch struct {
	Raw   string
	Files []PatchFile
}

// Paths returns every path the patch touches, in patch order.
func (p *Patch) Paths() []string {
	paths := make([]string, 0, len(p.Files))
	for _, f := range p.Files {
		paths = append(paths, f.Path())
	}
	return paths
}

var diffFenceRe = regexp.MustCompile("(?s)```(?:diff|patch)\\s*\n(.*?)```")

// ExtractPatch pulls a unified diff out of a model response: a ```diff or
// ```patch fence first, then a bare diff starting at the first "diff --git"
// or "--- " line. Returns "" when none is present.
func ExtractPatch(response string) string {
	if m := diffFenceRe.FindStringSubmatch(response); len(m) > 1 {
		return ensureTrailingNewline(m[1])
	}
	for _, marker := range []string{"diff --git ", "--- "} {
		if idx := strings.Index(response, marker); idx >= 0 && (idx == 0 || response[idx-1] == '\n') {
			body := response[idx:]
			if end := strings.Index(body, "\n```"); end >= 0 {
				body = body[:end+1]
			}
			return ensureTrailingNewline(body)
		}
	}
	return ""
}

func ensureTrailingNewline(s string) string {
	if s != "" && !strings.HasSuffix(s, "\n") {
		return s + "\n"
	}
	return s
}

// ParsePatch parses a multi-file unified diff. It fails when the text holds
// no file sections or a path escapes the repository.
func ParsePatch(text string) (*Patch, error) {
	fileDiffs, err := godiff.NewMultiFileDiffReader(strings.NewReader(text)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}
	if len(fileDiffs) == 0 {
		return nil, fmt.Errorf("parse diff: no file sections")
	}

	p := &Patch{Raw: text}
	for _, fd := range fileDiffs {
		pf := PatchFile{
			OldPath:  cleanPatchPath(fd.OrigName),
			NewPath:  cleanPatchPath(fd.NewName),
			IsNew:    fd.OrigName == devNull,
			IsDelete: fd.NewName == devNull,
		}
		stat := fd.Stat()
		pf.Additions = int(stat.Added + stat.Changed)
		pf.Deletions = int(stat.Deleted + stat.Changed)

		target := pf.Path()
		if target == "" || path.IsAbs(target) || strings.HasPrefix(path.Clean(target), "..") {
			return nil, fmt.Errorf("parse diff: unsafe path %q", target)
		}
		p.Files = append(p.Files, pf)
	}
	return p, nil
}

// cleanPatchPath strips the a/ and b/ prefixes git adds.
func cleanPatchPath(name string) string {
	if name == devNull {
		return ""
	}
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "a/")
	name = strings.TrimPrefix(name, "b/")
	return name
}
