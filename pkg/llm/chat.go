package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
	BaseURL     string // Ollama server URL
	Timeout     time.Duration
}

// ChatEngine generates text with a langchaingo model.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

func applyChatDefaults(config ChatConfig) (ChatConfig, error) {
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return config, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.TopP < 0 || config.TopP > 1 {
		return config, fmt.Errorf("top_p must be between 0 and 1")
	}
	if config.MaxTokens < 0 {
		return config, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2048
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	return config, nil
}

// NewWithConfig creates a ChatEngine backed by an Ollama server.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	config, err := applyChatDefaults(config)
	if err != nil {
		return nil, err
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    llm,
	}, nil
}

// NewWithModel wraps an already constructed model.
func NewWithModel(config ChatConfig, model llms.Model) (*ChatEngine, error) {
	config, err := applyChatDefaults(config)
	if err != nil {
		return nil, err
	}
	return &ChatEngine{config: config, llm: model}, nil
}

// Generate sends a system instruction and a user prompt and returns the
// concatenated text of the first non-empty choice.
func (ce *ChatEngine) Generate(ctx context.Context, system, prompt string) (string, error) {
	if ce.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ce.config.Timeout)
		defer cancel()
	}

	content := make([]llms.MessageContent, 0, 2)
	if system != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	response, err := ce.llm.GenerateContent(ctx, content,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithTopP(ce.config.TopP),
		llms.WithMaxTokens(ce.config.MaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if response == nil {
		return "", fmt.Errorf("chat error: no response from LLM")
	}

	for _, choice := range response.Choices {
		if choice != nil && strings.TrimSpace(choice.Content) != "" {
			return choice.Content, nil
		}
	}
	return "", fmt.Errorf("chat error: empty response from LLM")
}
