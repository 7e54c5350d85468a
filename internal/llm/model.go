// Package llm wraps the generative-model and embedding collaborators behind
// langchaingo, with bounded retries and lenient response parsing.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/storyboard-go/internal/budget"
	"github.com/raphaelgruber/storyboard-go/internal/config"
)

// ErrFatalAPI marks API errors that retrying cannot fix (billing, auth,
// quota). Callers should surface these instead of degrading silently.
var ErrFatalAPI = errors.New("fatal API error")

// Model is the chat/judge collaborator. One client serves every pipeline
// stage; the model name is chosen per call.
type Model struct {
	llm         llms.Model
	provider    config.Provider
	maxAttempts int
	callTimeout time.Duration
}

// NewModel creates the chat client for the configured provider.
func NewModel(cfg config.Config) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(openai.WithToken(cfg.OpenAIAPIKey))
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.Models.Planner),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(anthropic.WithToken(cfg.AnthropicAPIKey))
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Model{
		llm:         model,
		provider:    cfg.LLMProvider,
		maxAttempts: cfg.MaxAttempts,
		callTimeout: cfg.CallTimeout,
	}, nil
}

// Usage reports the token counts of one completed call. When the provider
// does not return usage data the counts are estimated.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Estimated    bool
}

// Total returns input + output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// CallOptions configure one chat completion.
type CallOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// Images are attached to the user message as inline binary parts.
	Images []Image
}

// Image is an inline image attachment.
type Image struct {
	MIME string
	Data []byte
}

// Complete runs one chat completion with system + user prompts. External
// failures are retried with exponential backoff up to the configured attempt
// cap; the final error is returned to the caller, which degrades to its
// documented default.
func (m *Model) Complete(ctx context.Context, opts CallOptions, systemPrompt, userPrompt string) (string, Usage, error) {
	userParts := []llms.ContentPart{llms.TextContent{Text: userPrompt}}
	for _, img := range opts.Images {
		userParts = append(userParts, llms.BinaryPart(img.MIME, img.Data))
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		{Role: llms.ChatMessageTypeHuman, Parts: userParts},
	}

	callOpts := []llms.CallOption{}
	if opts.Model != "" {
		callOpts = append(callOpts, llms.WithModel(opts.Model))
	}
	if opts.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}

	resp, err := retryCall(ctx, m.maxAttempts, m.callTimeout, func(ctx context.Context) (*llms.ContentResponse, error) {
		return m.llm.GenerateContent(ctx, messages, callOpts...)
	})
	if err != nil {
		return "", Usage{}, wrapFatalError(fmt.Errorf("generate: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("no response choices")
	}

	choice := resp.Choices[0]
	usage := usageFromInfo(choice.GenerationInfo)
	if usage.Total() == 0 {
		usage = Usage{
			InputTokens:  budget.EstimateTokens(systemPrompt + userPrompt),
			OutputTokens: budget.EstimateTokens(choice.Content),
			Estimated:    true,
		}
	}
	return choice.Content, usage, nil
}

func usageFromInfo(info map[string]any) Usage {
	var u Usage
	u.InputTokens = intFromInfo(info, "PromptTokens")
	u.OutputTokens = intFromInfo(info, "CompletionTokens")
	return u
}

func intFromInfo(info map[string]any, key string) int {
	if info == nil {
		return 0
	}
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// fatalPatterns are error substrings that no amount of retrying will fix.
var fatalPatterns = []string{
	"credit balance",
	"quota",
	"billing",
	"api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

// isFatalAPIError reports whether the error indicates a billing or auth
// problem rather than a transient failure.
func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range fatalPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// wrapFatalError tags fatal API errors with ErrFatalAPI so callers can use
// errors.Is. Non-fatal errors pass through unchanged.
func wrapFatalError(err error) error {
	if err == nil {
		return nil
	}
	if isFatalAPIError(err) && !errors.Is(err, ErrFatalAPI) {
		return fmt.Errorf("%w: %v", ErrFatalAPI, err)
	}
	return err
}
