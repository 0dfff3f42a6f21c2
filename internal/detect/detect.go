// Package detect infers a project's native build, test and lint commands.
package detect

import (
	"os"
	"path/filepath"
	"strings"
)

// ProjectType represents the detected project type.
type ProjectType string

const (
	ProjectTypeRust       ProjectType = "rust"
	ProjectTypeGo         ProjectType = "go"
	ProjectTypePython     ProjectType = "python"
	ProjectTypeTypeScript ProjectType = "typescript"
	ProjectTypeJavaScript ProjectType = "javascript"
	ProjectTypeUnknown    ProjectType = "unknown"
)

// BuildTool represents a detected build/package tool.
type BuildTool string

const (
	BuildToolCargo  BuildTool = "cargo"
	BuildToolMake   BuildTool = "make"
	BuildToolNPM    BuildTool = "npm"
	BuildToolYarn   BuildTool = "yarn"
	BuildToolPnpm   BuildTool = "pnpm"
	BuildToolBun    BuildTool = "bun"
	BuildToolPoetry BuildTool = "poetry"
	BuildToolPip    BuildTool = "pip"
)

// Detection contains the results of project detection.
type Detection struct {
	Language   ProjectType `yaml:"language" json:"language"`
	BuildTools []BuildTool `yaml:"build_tools,omitempty" json:"build_tools,omitempty"`

	// Inferred commands. LintCommand must fail on any warning.
	BuildCommand string `yaml:"build_command,omitempty" json:"build_command,omitempty"`
	TestCommand  string `yaml:"test_command,omitempty" json:"test_command,omitempty"`
	LintCommand  string `yaml:"lint_command,omitempty" json:"lint_command,omitempty"`

	// LintJSONCommand emits one JSON diagnostic per line; empty when the
	// ecosystem's linter has no such mode.
	LintJSONCommand  string `yaml:"lint_json_command,omitempty" json:"lint_json_command,omitempty"`
	DiagnosticPrefix string `yaml:"diagnostic_prefix,omitempty" json:"diagnostic_prefix,omitempty"`
}

// Detect analyzes the project at the given path.
func Detect(path string) (*Detection, error) {
	d := &Detection{
		Language:   detectLanguage(path),
		BuildTools: detectBuildTools(path),
	}

	d.BuildCommand = inferBuildCommand(d)
	d.TestCommand = inferTestCommand(d)
	d.LintCommand = inferLintCommand(d)
	if d.Language == ProjectTypeRust {
		d.LintJSONCommand = "cargo clippy --all-targets --all-features --message-format=json"
		d.DiagnosticPrefix = "clippy::"
	}

	return d, nil
}

func detectLanguage(path string) ProjectType {
	if fileExists(filepath.Join(path, "Cargo.toml")) {
		return ProjectTypeRust
	}
	if fileExists(filepath.Join(path, "go.mod")) {
		return ProjectTypeGo
	}
	if fileExists(filepath.Join(path, "pyproject.toml")) ||
		fileExists(filepath.Join(path, "setup.py")) ||
		fileExists(filepath.Join(path, "requirements.txt")) {
		return ProjectTypePython
	}
	if fileExists(filepath.Join(path, "tsconfig.json")) {
		return ProjectTypeTypeScript
	}
	if fileExists(filepath.Join(path, "package.json")) {
		return ProjectTypeJavaScript
	}
	return ProjectTypeUnknown
}

func detectBuildTools(path string) []BuildTool {
	var tools []BuildTool

	if fileExists(filepath.Join(path, "Cargo.toml")) {
		tools = append(tools, BuildToolCargo)
	}
	if fileExists(filepath.Join(path, "Makefile")) {
		tools = append(tools, BuildToolMake)
	}

	if fileExists(filepath.Join(path, "package.json")) {
		// Lock file decides the package manager
		switch {
		case fileExists(filepath.Join(path, "bun.lockb")) || fileExists(filepath.Join(path, "bun.lock")):
			tools = append(tools, BuildToolBun)
		case fileExists(filepath.Join(path, "pnpm-lock.yaml")):
			tools = append(tools, BuildToolPnpm)
		case fileExists(filepath.Join(path, "yarn.lock")):
			tools = append(tools, BuildToolYarn)
		default:
			tools = append(tools, BuildToolNPM)
		}
	}

	if fileExists(filepath.Join(path, "poetry.lock")) {
		tools = append(tools, BuildToolPoetry)
	} else if fileExists(filepath.Join(path, "requirements.txt")) {
		tools = append(tools, BuildToolPip)
	}

	return tools
}

// jsRunner returns the package manager used to run scripts.
func jsRunner(d *Detection) string {
	for _, tool := range d.BuildTools {
		switch tool {
		case BuildToolBun:
			return "bun run"
		case BuildToolPnpm:
			return "pnpm"
		case BuildToolYarn:
			return "yarn"
		case BuildToolNPM:
			return "npm run"
		}
	}
	return "npm run"
}

func inferBuildCommand(d *Detection) string {
	switch d.Language {
	case ProjectTypeRust:
		return "cargo build --all-targets"
	case ProjectTypeGo:
		return "go build ./..."
	case ProjectTypeTypeScript, ProjectTypeJavaScript:
		return jsRunner(d) + " build"
	case ProjectTypePython:
		return "python -m compileall -q ."
	}
	return ""
}

func inferTestCommand(d *Detection) string {
	switch d.Language {
	case ProjectTypeRust:
		return "cargo test"
	case ProjectTypeGo:
		return "go test ./..."
	case ProjectTypeTypeScript, ProjectTypeJavaScript:
		return strings.Replace(jsRunner(d), " run", "", 1) + " test"
	case ProjectTypePython:
		return "pytest"
	}
	return ""
}

func inferLintCommand(d *Detection) string {
	switch d.Language {
	case ProjectTypeRust:
		return "cargo clippy --all-targets --all-features -- -D warnings"
	case ProjectTypeGo:
		return "go vet ./..."
	case ProjectTypeTypeScript, ProjectTypeJavaScript:
		return jsRunner(d) + " lint"
	case ProjectTypePython:
		return "ruff check ."
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DescribeProject generates a human-readable project description.
func DescribeProject(d *Detection) string {
	if d.Language == ProjectTypeUnknown {
		return "Unknown project type"
	}
	if len(d.BuildTools) == 0 {
		return string(d.Language) + " project"
	}
	tools := make([]string, len(d.BuildTools))
	for i, t := range d.BuildTools {
		tools[i] = string(t)
	}
	return string(d.Language) + " project using " + strings.Join(tools, ", ")
}
