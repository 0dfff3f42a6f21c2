// Package testutil provides repository fixtures shared by package tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// TestRepo is a temporary repository, optionally under git.
type TestRepo struct {
	t       *testing.T
	RootDir string
	MendDir string
}

// NewRepo creates a temporary directory holding files (relative path to
// content) and an empty .mend directory. It is removed when the test ends.
func NewRepo(t *testing.T, files map[string]string) *TestRepo {
	t.Helper()

	root := t.TempDir()
	r := &TestRepo{t: t, RootDir: root, MendDir: filepath.Join(root, ".mend")}
	if err := os.MkdirAll(r.MendDir, 0o755); err != nil {
		t.Fatalf("create .mend: %v", err)
	}
	for rel, content := range files {
		r.WriteFile(rel, content)
	}
	return r
}

// SetupGitRepo is NewRepo plus a git repository on branch main with files
// in an initial commit. The test is skipped when git is not installed.
func SetupGitRepo(t *testing.T, files map[string]string) *TestRepo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	if len(files) == 0 {
		files = map[string]string{"README.md": "# Test Project\n"}
	}
	r := NewRepo(t, files)
	r.Git("init", "--initial-branch=main")
	r.Git("config", "user.email", "test@example.com")
	r.Git("config", "user.name", "Test User")
	r.Git("config", "commit.gpgsign", "false")
	for rel := range files {
		r.Git("add", rel)
	}
	r.Git("commit", "-m", "Initial commit")
	return r
}

// Git runs a git command in the repository and returns its trimmed output.
func (r *TestRepo) Git(args ...string) string {
	r.t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = r.RootDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// Path returns the absolute path of a repository-relative path.
func (r *TestRepo) Path(rel string) string {
	return filepath.Join(r.RootDir, filepath.FromSlash(rel))
}

// WriteFile writes content at rel, creating parent directories.
func (r *TestRepo) WriteFile(rel, content string) {
	r.t.Helper()

	path := r.Path(rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		r.t.Fatalf("create directory for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		r.t.Fatalf("write %s: %v", rel, err)
	}
}

// ReadFile returns the content at rel.
func (r *TestRepo) ReadFile(rel string) string {
	r.t.Helper()

	data, err := os.ReadFile(r.Path(rel))
	if err != nil {
		r.t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

// SetConfig sets a dotted key in .mend/config.yaml, creating the file and
// intermediate maps as needed.
func (r *TestRepo) SetConfig(key string, value any) {
	r.t.Helper()

	configPath := filepath.Join(r.MendDir, "config.yaml")
	config := map[string]any{}
	if _, err := os.Stat(configPath); err == nil {
		config = ReadYAML(r.t, configPath)
	}

	parts := strings.Split(key, ".")
	current := config
	for i, part := range parts[:len(parts)-1] {
		if _, ok := current[part]; !ok {
			current[part] = make(map[string]any)
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			r.t.Fatalf("config path %s is not a map at %s", key, strings.Join(parts[:i+1], "."))
		}
		current = next
	}
	current[parts[len(parts)-1]] = value

	WriteYAML(r.t, configPath, config)
}

// WriteYAML writes data to path as YAML.
func WriteYAML(t *testing.T, path string, data any) {
	t.Helper()

	content, err := yaml.Marshal(data)
	if err != nil {
		t.Fatalf("marshal yaml: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create directory: %v", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
}

// ReadYAML reads path into a generic map.
func ReadYAML(t *testing.T, path string) map[string]any {
	t.Helper()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read yaml: %v", err)
	}
	var data map[string]any
	if err := yaml.Unmarshal(content, &data); err != nil {
		t.Fatalf("unmarshal yaml: %v", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data
}
