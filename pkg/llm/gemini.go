package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type GeminiConfig struct {
	APIKey         string
	ChatModel      string
	EmbedModel     string
	EmbedDimension int
	Temperature    float64
	TopP           float64
	MaxTokens      int
}

// GeminiClient talks to the Gemini API for both generation and embeddings.
type GeminiClient struct {
	config GeminiConfig
	client *genai.Client
}

func NewGeminiClient(ctx context.Context, config GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if config.ChatModel == "" {
		config.ChatModel = "gemini-2.0-flash"
	}
	if config.EmbedModel == "" {
		config.EmbedModel = "gemini-embedding-001"
	}
	if config.EmbedDimension == 0 {
		config.EmbedDimension = 768
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	return &GeminiClient{config: config, client: client}, nil
}

func (g *GeminiClient) Generate(ctx context.Context, system, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(g.config.Temperature)),
		TopP:        genai.Ptr(float32(g.config.TopP)),
	}
	if g.config.MaxTokens > 0 {
		config.MaxOutputTokens = int32(g.config.MaxTokens)
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.config.ChatModel,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, config)
	if err != nil {
		return "", fmt.Errorf("chat generation failed: %w", err)
	}

	var response strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part != nil && part.Text != "" {
					response.WriteString(part.Text)
				}
			}
			if response.Len() > 0 {
				break
			}
		}
	}
	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from chat model")
	}
	return response.String(), nil
}

func (g *GeminiClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	outputDim := int32(g.config.EmbedDimension)

	result, err := g.client.Models.EmbedContent(ctx, g.config.EmbedModel, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &outputDim,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}
	if result == nil || len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding response does not match the %d inputs", len(texts))
	}

	out := make([][]float32, len(texts))
	for i, emb := range result.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("embedding %d missing from response", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}
