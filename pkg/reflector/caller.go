package reflector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/papercomputeco/reverie/pkg/logger"
)

const (
	providerOpenAI    = "openai"
	providerAnthropic = "anthropic"
	providerOllama    = "ollama"

	defaultTimeout = 120 * time.Second
)

// Config holds configuration for creating a reflector.
type Config struct {
	Provider string        // "openai", "anthropic", or "ollama"
	Model    string        // e.g. "gpt-4o-mini", "claude-haiku-4-5-20251001"
	APIKey   string        // explicit API key (highest priority)
	BaseURL  string        // override base URL
	Timeout  time.Duration // per call, defaults to 120s
	Logger   *slog.Logger
}

// New creates a Reflector for the configured provider.
// Resolution order for API key:
//  1. Explicit APIKey in config
//  2. Environment variables (OPENAI_API_KEY / ANTHROPIC_API_KEY)
//  3. Fall back to Ollama at localhost:11434
func New(cfg Config) (Reflector, error) {
	provider := strings.ToLower(cfg.Provider)
	model := cfg.Model

	l := cfg.Logger
	if l == nil {
		l = logger.Nop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = resolveAPIKeyFromEnv(provider)
	}

	if apiKey == "" && provider != providerOllama {
		l.Warn("no API key found for reflector, falling back to ollama", "provider", provider)
		provider = providerOllama
		model = ""
	}

	var call CallFunc
	switch provider {
	case providerOpenAI, "":
		if model == "" {
			model = "gpt-4o-mini"
		}
		call = newOpenAICaller(apiKey, model, cfg.BaseURL)

	case providerAnthropic:
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.anthropic.com"
		}
		call = newAnthropicCaller(apiKey, model, baseURL)

	case providerOllama:
		if model == "" {
			model = "llama3.2"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		call = newOllamaCaller(model, baseURL)

	default:
		return nil, fmt.Errorf("unsupported reflector provider: %s", provider)
	}

	l.Info("reflector configured", "provider", provider, "model", model)
	return Func(withTimeout(call, timeout)), nil
}

func withTimeout(call CallFunc, timeout time.Duration) CallFunc {
	return func(ctx context.Context, prompt string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return call(ctx, prompt)
	}
}

func resolveAPIKeyFromEnv(provider string) string {
	switch provider {
	case providerAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case providerOpenAI, "":
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}

// --- OpenAI caller ---

func newOpenAICaller(apiKey, model, baseURL string) CallFunc {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	return func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
		})
		if err != nil {
			return "", fmt.Errorf("openai request: %w", err)
		}

		if len(resp.Choices) == 0 {
			return "", errors.New("openai returned no choices")
		}

		return resp.Choices[0].Message.Content, nil
	}
}

// --- Anthropic caller ---

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func newAnthropicCaller(apiKey, model, baseURL string) CallFunc {
	return func(ctx context.Context, prompt string) (string, error) {
		body, err := postJSON(ctx, baseURL+"/v1/messages", anthropicRequest{
			Model:     model,
			MaxTokens: 2048,
			Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
		}, map[string]string{
			"x-api-key":         apiKey,
			"anthropic-version": "2023-06-01",
		})
		if err != nil {
			return "", fmt.Errorf("anthropic %w", err)
		}

		var result anthropicResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return "", fmt.Errorf("unmarshal response: %w", err)
		}

		if result.Error != nil {
			return "", fmt.Errorf("anthropic error: %s", result.Error.Message)
		}

		var text strings.Builder
		for _, block := range result.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		if text.Len() == 0 {
			return "", errors.New("anthropic returned no content")
		}

		return text.String(), nil
	}
}

// --- Ollama caller ---

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

func newOllamaCaller(model, baseURL string) CallFunc {
	return func(ctx context.Context, prompt string) (string, error) {
		body, err := postJSON(ctx, baseURL+"/api/chat", ollamaChatRequest{
			Model:    model,
			Messages: []ollamaChatMessage{{Role: "user", Content: prompt}},
			Stream:   false,
		}, nil)
		if err != nil {
			return "", fmt.Errorf("ollama %w", err)
		}

		var result ollamaChatResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return "", fmt.Errorf("unmarshal response: %w", err)
		}

		return result.Message.Content, nil
	}
}

// postJSON sends payload and returns the body of a 200 response.
func postJSON(ctx context.Context, url string, payload any, headers map[string]string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
