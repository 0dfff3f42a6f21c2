package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/mend/internal/detect"
	mendErrors "github.com/randalmurphal/mend/internal/errors"
)

// EnvPrefix is the prefix for environment overrides (MEND_MODEL_NAME, ...).
const EnvPrefix = "MEND"

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// RepoRoot is the repository being improved.
	RepoRoot string
	// ConfigFile overrides the search path when set.
	ConfigFile string
	// SkipDetect leaves empty toolchain commands empty.
	SkipDetect bool
}

// Load resolves configuration in this order (later wins):
//  1. Built-in defaults
//  2. User config (~/.mend/config.yaml), or the explicit --config file
//  3. Project config (<repo>/.mend/config.yaml)
//  4. Environment variables (MEND_*)
//
// Empty toolchain commands are then filled from project detection and the
// result is validated. Every failure is a fatal configuration error.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("marshal defaults: %w", err)
	}
	// Reading defaults as a config layer registers every key, which is what
	// lets AutomaticEnv override keys the files never mention.
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if opts.ConfigFile != "" {
		if err := mergeFile(v, opts.ConfigFile); err != nil {
			return nil, mendErrors.ErrConfigInvalid("config", err.Error())
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(home, MendDir, ConfigFileName)
			if _, statErr := os.Stat(userPath); statErr == nil {
				if err := mergeFile(v, userPath); err != nil {
					slog.Warn("failed to load user config", "path", userPath, "error", err)
				}
			}
		}
		projectPath := filepath.Join(opts.RepoRoot, MendDir, ConfigFileName)
		if _, statErr := os.Stat(projectPath); statErr == nil {
			// Project config errors are fatal
			if err := mergeFile(v, projectPath); err != nil {
				return nil, mendErrors.ErrConfigInvalid(projectPath, err.Error())
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, mendErrors.ErrConfigInvalid("config", err.Error())
	}

	if !opts.SkipDetect {
		applyDetection(cfg, opts.RepoRoot)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyDetection fills toolchain commands the user left empty.
func applyDetection(cfg *Config, root string) {
	if cfg.Toolchain.Build != "" && cfg.Toolchain.Test != "" &&
		(cfg.Toolchain.Lint != "" || cfg.Toolchain.SkipLint) && cfg.Lint.Command != "" {
		return
	}

	d, err := detect.Detect(root)
	if err != nil {
		slog.Warn("project detection failed", "path", root, "error", err)
		return
	}
	if cfg.Toolchain.Build == "" {
		cfg.Toolchain.Build = d.BuildCommand
	}
	if cfg.Toolchain.Test == "" {
		cfg.Toolchain.Test = d.TestCommand
	}
	if cfg.Toolchain.Lint == "" {
		cfg.Toolchain.Lint = d.LintCommand
	}
	if cfg.Lint.Command == "" {
		cfg.Lint.Command = d.LintJSONCommand
	}
	if d.DiagnosticPrefix != "" && cfg.Lint.CodePrefix == Default().Lint.CodePrefix {
		cfg.Lint.CodePrefix = d.DiagnosticPrefix
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints plus the cross-field rules the tags
// cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return mendErrors.ErrConfigInvalid(
				configKey(fe.Namespace()),
				fmt.Sprintf("failed '%s' check (value %v)", fe.ActualTag(), fe.Value()),
			)
		}
		return mendErrors.ErrConfigInvalid("config", err.Error())
	}

	if cfg.Model.Provider == "local" && cfg.Model.BaseURL == "" {
		return mendErrors.ErrConfigMissing("model.base_url")
	}
	if cfg.Toolchain.Build == "" && cfg.Toolchain.Test == "" {
		return mendErrors.ErrConfigMissing("toolchain.build")
	}
	return nil
}

// configKey turns "Config.Model.BaseURL" into a readable dotted path.
func configKey(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 && parts[0] == "Config" {
		parts = parts[1:]
	}
	return strings.ToLower(strings.Join(parts, "."))
}

// ProjectPath returns <root>/.mend/config.yaml.
func ProjectPath(root string) string {
	return filepath.Join(root, MendDir, ConfigFileName)
}

// LoadProject reads only the project config file over the defaults, with no
// user file, environment or detection layered in. 'mend config set' edits
// this view so it writes back exactly what the project file holds.
func LoadProject(root string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(ProjectPath(root))
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, mendErrors.ErrConfigInvalid(ProjectPath(root), err.Error())
	}
	return cfg, nil
}

// WriteDefault writes cfg as YAML to <root>/.mend/config.yaml, refusing to
// overwrite an existing file unless force is set.
func WriteDefault(root string, cfg *Config, force bool) (string, error) {
	path := ProjectPath(root)
	if _, err := os.Stat(path); err == nil && !force {
		return path, fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return path, fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return path, fmt.Errorf("create %s: %w", MendDir, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return path, fmt.Errorf("write config: %w", err)
	}
	return path, nil
}
