package hosting

import (
	"fmt"
	"os"
	"sort"

	"github.com/randalmurphal/mend/internal/config"
	mendErrors "github.com/randalmurphal/mend/internal/errors"
)

// Config holds hosting provider configuration.
type Config struct {
	// Provider type: "github", "gitlab", or "auto" (default).
	// When "auto", the provider is detected from the git remote URL.
	Provider string

	// BaseURL for self-hosted instances (e.g., "https://gitlab.company.com").
	// Leave empty for github.com / gitlab.com.
	BaseURL string

	// TokenEnvVar overrides the default token environment variable name.
	TokenEnvVar string
}

// FromConfig extracts the provider settings from mend's configuration.
func FromConfig(hc config.HostingConfig) Config {
	return Config{Provider: hc.Provider, BaseURL: hc.BaseURL, TokenEnvVar: hc.TokenEnvVar}
}

// NewProviderFunc constructs a provider for a repository identified by its
// remote URL. Provider packages register one at init time.
type NewProviderFunc func(remoteURL string, cfg Config) (Provider, error)

var providerConstructors = map[ProviderType]NewProviderFunc{}

// RegisterProvider registers a provider constructor.
// Called from init() in provider packages (github/, gitlab/).
func RegisterProvider(providerType ProviderType, constructor NewProviderFunc) {
	providerConstructors[providerType] = constructor
}

// NewProvider creates the provider for the repository at remoteURL.
// If cfg.Provider is "auto" or empty, the provider is detected from the URL.
func NewProvider(remoteURL string, cfg Config) (Provider, error) {
	providerType, err := ResolveProviderType(remoteURL, cfg)
	if err != nil {
		return nil, err
	}

	constructor, ok := providerConstructors[providerType]
	if !ok {
		return nil, fmt.Errorf("no provider registered for %q (registered: %v)", providerType, registeredProviders())
	}
	return constructor(remoteURL, cfg)
}

// ResolveProviderType determines which provider to use.
func ResolveProviderType(remoteURL string, cfg Config) (ProviderType, error) {
	if cfg.Provider != "" && cfg.Provider != "auto" {
		pt := ProviderType(cfg.Provider)
		if pt != ProviderGitHub && pt != ProviderGitLab {
			return "", mendErrors.ErrConfigInvalid("hosting.provider", fmt.Sprintf("unknown provider %q (supported: github, gitlab)", cfg.Provider))
		}
		return pt, nil
	}

	detected := DetectProvider(remoteURL)
	if detected == ProviderUnknown {
		return "", mendErrors.ErrConfigInvalid("hosting.provider",
			fmt.Sprintf("cannot detect hosting provider from remote URL %q; set it explicitly", remoteURL))
	}
	return detected, nil
}

// Token reads the API token from the first set variable among envVars, or
// from cfg.TokenEnvVar alone when that is configured.
func Token(cfg Config, envVars ...string) (string, error) {
	if cfg.TokenEnvVar != "" {
		envVars = []string{cfg.TokenEnvVar}
	}
	for _, name := range envVars {
		if token := os.Getenv(name); token != "" {
			return token, nil
		}
	}
	if len(envVars) == 0 {
		return "", mendErrors.ErrConfigMissing("hosting.token_env_var")
	}
	return "", mendErrors.ErrConfigMissing(envVars[0] + " (hosting API token)")
}

func registeredProviders() []ProviderType {
	var providers []ProviderType
	for pt := range providerConstructors {
		providers = append(providers, pt)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers
}
