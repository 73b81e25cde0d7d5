package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/askdocs/pkg/llm"
)

// stubModel records the last request and replies with a canned response.
type stubModel struct {
	reply    *llms.ContentResponse
	err      error
	messages []llms.MessageContent
	options  llms.CallOptions
}

func (m *stubModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	for _, opt := range options {
		opt(&m.options)
	}
	return m.reply, m.err
}

func (m *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestNewWithConfig(t *testing.T) {
	engine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:       "testmodel",
		Temperature: 0.5,
		MaxTokens:   1000,
		BaseURL:     "http://localhost:1234",
	})
	assert.NoError(t, err)
	assert.NotNil(t, engine)

	_, err = llm.NewWithConfig(llm.ChatConfig{Temperature: 3})
	assert.Error(t, err)

	_, err = llm.NewWithConfig(llm.ChatConfig{MaxTokens: -1})
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	model := &stubModel{reply: &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: ""}, {Content: "The answer."}},
	}}
	engine, err := llm.NewWithModel(llm.ChatConfig{Temperature: 0.7, TopP: 0.9, MaxTokens: 2048}, model)
	require.NoError(t, err)

	out, err := engine.Generate(context.Background(), "system rules", "question?")
	require.NoError(t, err)
	assert.Equal(t, "The answer.", out)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, 0.7, model.options.Temperature)
	assert.Equal(t, 0.9, model.options.TopP)
	assert.Equal(t, 2048, model.options.MaxTokens)
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name  string
		model *stubModel
	}{
		{"model error", &stubModel{err: errors.New("connection refused")}},
		{"nil response", &stubModel{}},
		{"blank choices", &stubModel{reply: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "  "}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := llm.NewWithModel(llm.ChatConfig{Temperature: 0.7}, tt.model)
			require.NoError(t, err)

			_, err = engine.Generate(context.Background(), "", "q")
			assert.Error(t, err)
		})
	}
}
