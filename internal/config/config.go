// Package config provides configuration management for mend.
package config

import (
	"time"
)

// MendDir is the per-repository directory holding mend's own files.
const MendDir = ".mend"

// ConfigFileName is the project config file name inside MendDir.
const ConfigFileName = "config.yaml"

// Config represents the mend configuration.
type Config struct {
	Model     ModelConfig     `yaml:"model" mapstructure:"model" validate:"required"`
	Toolchain ToolchainConfig `yaml:"toolchain" mapstructure:"toolchain"`
	Lint      LintConfig      `yaml:"lint" mapstructure:"lint"`
	Workflow  WorkflowConfig  `yaml:"workflow" mapstructure:"workflow"`
	Ledger    LedgerConfig    `yaml:"ledger" mapstructure:"ledger"`
	Context   ContextConfig   `yaml:"context" mapstructure:"context"`
	Git       GitConfig       `yaml:"git" mapstructure:"git"`
	Hosting   HostingConfig   `yaml:"hosting" mapstructure:"hosting"`
	Prompts   PromptsConfig   `yaml:"prompts" mapstructure:"prompts"`
	Journal   JournalConfig   `yaml:"journal" mapstructure:"journal"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// ModelConfig selects and reaches the code-generation backend.
type ModelConfig struct {
	// Provider is "openai" for the hosted API or "local" for any
	// OpenAI-compatible server (ollama, llama.cpp, vLLM) at BaseURL.
	Provider string `yaml:"provider" mapstructure:"provider" validate:"oneof=openai local"`
	Name     string `yaml:"name" mapstructure:"name" validate:"required"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`

	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv string `yaml:"api_key_env" mapstructure:"api_key_env"`

	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gt=0"`
	Temperature float32       `yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gte=0"`

	// Roles overrides Name per caller: analyzer, executor, fix.
	Roles map[string]string `yaml:"roles,omitempty" mapstructure:"roles"`
}

// ModelFor returns the model name for a role, falling back to Name.
func (m ModelConfig) ModelFor(role string) string {
	if name, ok := m.Roles[role]; ok && name != "" {
		return name
	}
	return m.Name
}

// ToolchainConfig holds the native build pipeline commands.
// Empty commands are inferred from the project layout at load time.
type ToolchainConfig struct {
	Build   string        `yaml:"build" mapstructure:"build"`
	Test    string        `yaml:"test" mapstructure:"test"`
	Lint    string        `yaml:"lint" mapstructure:"lint"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gt=0"`

	// SkipLint drops the lint step from validation.
	SkipLint bool `yaml:"skip_lint" mapstructure:"skip_lint"`
}

// LintConfig configures the structured diagnostic stream used by the
// cleanup phase.
type LintConfig struct {
	// Command must print one JSON diagnostic per line.
	Command    string `yaml:"command" mapstructure:"command"`
	CodePrefix string `yaml:"code_prefix" mapstructure:"code_prefix"`
	SampleSize int    `yaml:"sample_size" mapstructure:"sample_size" validate:"gt=0"`
}

// WorkflowConfig tunes the orchestration state machine.
type WorkflowConfig struct {
	MaxFeatures        int `yaml:"max_features" mapstructure:"max_features" validate:"gte=0"`
	LargeDiffThreshold int `yaml:"large_diff_threshold" mapstructure:"large_diff_threshold" validate:"gt=0"`
	FixAttempts        int `yaml:"fix_attempts" mapstructure:"fix_attempts" validate:"gte=0,lte=10"`
}

// LedgerConfig controls ledger persistence.
type LedgerConfig struct {
	// PruneCompleted drops completed items on save. Duplicate suppression
	// can then only match items still in the file.
	PruneCompleted bool `yaml:"prune_completed" mapstructure:"prune_completed"`
}

// ContextConfig bounds the source context handed to the model.
type ContextConfig struct {
	Include      []string `yaml:"include" mapstructure:"include" validate:"min=1"`
	Exclude      []string `yaml:"exclude" mapstructure:"exclude"`
	HotPaths     []string `yaml:"hot_paths" mapstructure:"hot_paths"`
	Docs         []string `yaml:"docs" mapstructure:"docs"`
	MaxBytes     int      `yaml:"max_bytes" mapstructure:"max_bytes" validate:"gt=0"`
	MaxFileBytes int      `yaml:"max_file_bytes" mapstructure:"max_file_bytes" validate:"gt=0"`
}

// GitConfig holds git settings for checkpoints and PR branches.
type GitConfig struct {
	BranchPrefix string `yaml:"branch_prefix" mapstructure:"branch_prefix"`
	Remote       string `yaml:"remote" mapstructure:"remote" validate:"required"`
	BaseBranch   string `yaml:"base_branch" mapstructure:"base_branch" validate:"required"`
}

// HostingConfig configures pull-request creation.
type HostingConfig struct {
	// Provider is "github", "gitlab" or "auto" (detected from the remote).
	Provider    string   `yaml:"provider" mapstructure:"provider" validate:"oneof=auto github gitlab"`
	BaseURL     string   `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	TokenEnvVar string   `yaml:"token_env_var" mapstructure:"token_env_var"`
	Draft       bool     `yaml:"draft" mapstructure:"draft"`
	Labels      []string `yaml:"labels" mapstructure:"labels"`
}

// PromptsConfig locates prompt overrides.
type PromptsConfig struct {
	Dir      string   `yaml:"dir" mapstructure:"dir"`
	Required []string `yaml:"required" mapstructure:"required"`
}

// JournalConfig controls the SQLite run history.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level          string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	File           string `yaml:"file" mapstructure:"file"`
	DiagnosticsDir string `yaml:"diagnostics_dir" mapstructure:"diagnostics_dir" validate:"required"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    "openai",
			Name:        "gpt-4o",
			APIKeyEnv:   "OPENAI_API_KEY",
			Timeout:     time.Hour,
			Temperature: 0.2,
		},
		Toolchain: ToolchainConfig{
			Timeout: 30 * time.Minute,
		},
		Lint: LintConfig{
			CodePrefix: "clippy::",
			SampleSize: 50,
		},
		Workflow: WorkflowConfig{
			MaxFeatures:        3,
			LargeDiffThreshold: 100,
			FixAttempts:        3,
		},
		Context: ContextConfig{
			Include:      []string{"**/*.rs", "**/*.go", "**/*.py", "**/*.ts", "**/*.js"},
			Exclude:      []string{"target/**", "vendor/**", "node_modules/**", ".git/**", "**/*_test.go", ".mend/**"},
			Docs:         []string{"README.md", "ARCHITECTURE.md", "docs/**/*.md"},
			MaxBytes:     200_000,
			MaxFileBytes: 60_000,
		},
		Git: GitConfig{
			BranchPrefix: "mend/",
			Remote:       "origin",
			BaseBranch:   "main",
		},
		Hosting: HostingConfig{
			Provider: "auto",
		},
		Prompts: PromptsConfig{
			Dir: MendDir + "/prompts",
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    MendDir + "/history.db",
		},
		Log: LogConfig{
			Level:          "info",
			File:           "orchestrator.log",
			DiagnosticsDir: ".orchestrator_logs",
		},
	}
}
