package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/randalmurphal/mend/internal/config"
	mendErrors "github.com/randalmurphal/mend/internal/errors"
)

// localAPIKey is sent to OpenAI-compatible local servers that ignore auth.
const localAPIKey = "local"

// OpenAIGenerator talks to the OpenAI chat completions API or any
// compatible server at a custom base URL.
type OpenAIGenerator struct {
	client  *openai.Client
	cfg     config.ModelConfig
	logger  *slog.Logger
	timeout time.Duration
}

// NewOpenAIGenerator builds a generator from model configuration.
// A missing credential for the hosted provider is fatal.
func NewOpenAIGenerator(cfg config.ModelConfig, logger *slog.Logger) (*OpenAIGenerator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
	}

	switch cfg.Provider {
	case "local":
		if cfg.BaseURL == "" {
			return nil, mendErrors.ErrConfigMissing("model.base_url")
		}
		if apiKey == "" {
			apiKey = localAPIKey
		}
	default:
		if apiKey == "" {
			env := cfg.APIKeyEnv
			if env == "" {
				env = "model.api_key_env"
			}
			return nil, mendErrors.ErrGeneratorUnavailable(fmt.Sprintf("%s is not set", env))
		}
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Hour
	}

	logger.Debug("initializing generator", "provider", cfg.Provider, "model", cfg.Name, "base_url", clientCfg.BaseURL)
	return &OpenAIGenerator{
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		logger:  logger,
		timeout: timeout,
	}, nil
}

// Generate sends one system+user exchange and returns the first choice.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = g.cfg.ModelFor(req.Role)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.User})

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: g.cfg.Temperature,
	}
	if g.cfg.MaxTokens > 0 {
		if g.cfg.Provider == "local" {
			chatReq.MaxTokens = g.cfg.MaxTokens
		} else {
			chatReq.MaxCompletionTokens = g.cfg.MaxTokens
		}
	}

	start := time.Now()
	g.logger.Debug("generating", "model", model, "role", req.Role, "prompt_chars", len(req.System)+len(req.User))

	resp, err := g.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 401 {
			return "", mendErrors.ErrGeneratorUnavailable("credential rejected").WithCause(err)
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}

	g.logger.Debug("generation finished",
		"model", model,
		"finish_reason", resp.Choices[0].FinishReason,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration", time.Since(start).Round(time.Millisecond))
	return resp.Choices[0].Message.Content, nil
}
