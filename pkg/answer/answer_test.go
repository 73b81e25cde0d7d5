package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	args := m.Called(ctx, system, prompt)
	return args.String(0), args.Error(1)
}

func TestLiveGenerate(t *testing.T) {
	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, systemPrompt,
		"Context from retrieved documents:\nRefunds take 14 days.\n---\nNow, here is the question you need to answer:\n\nQuestion: How long do refunds take?").
		Return("  Refunds take **14 days**.\n", nil)

	b := New(ModeLive, gen, nil)
	require.True(t, b.Live())

	got := b.Generate(context.Background(), "Refunds take 14 days.", "How long do refunds take?")
	assert.Equal(t, "Refunds take **14 days**.", got.Text)
	assert.False(t, got.Degraded)
	gen.AssertExpectations(t)
}

func TestLiveDegradesOnFailure(t *testing.T) {
	tests := []struct {
		name string
		out  string
		err  error
	}{
		{"error", "", errors.New("model not loaded")},
		{"blank", "   \n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := new(mockGenerator)
			gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(tt.out, tt.err)

			got := New(ModeLive, gen, nil).Generate(context.Background(), "some context", "q?")
			assert.True(t, got.Degraded)
			assert.Equal(t, Fallback("some context", "q?"), got)
		})
	}
}

func TestLiveWithoutGeneratorIsFallback(t *testing.T) {
	b := New(ModeLive, nil, nil)
	assert.False(t, b.Live())
	assert.Equal(t, ModeFallback, b.Mode())
}

func TestFallbackWithContext(t *testing.T) {
	ctxText := strings.Repeat("é", 600)
	got := New(ModeFallback, nil, nil).Generate(context.Background(), ctxText, "What is it?")

	assert.True(t, got.Degraded)
	assert.Contains(t, got.Text, `your question: "What is it?"`)
	assert.Contains(t, got.Text, "**Context Summary:**\n"+strings.Repeat("é", 500)+"...")
	assert.NotContains(t, got.Text, strings.Repeat("é", 501))
	assert.Contains(t, got.Text, "non-generative fallback")
}

func TestFallbackShortContextIsNotTruncated(t *testing.T) {
	got := Fallback("short context", "q")
	assert.Contains(t, got.Text, "**Context Summary:**\nshort context\n")
}

func TestFallbackWithoutContext(t *testing.T) {
	got := Fallback("  ", "Anything there?")
	assert.True(t, got.Degraded)
	assert.True(t, strings.HasPrefix(got.Text, `I received your question: "Anything there?"`))
	assert.Contains(t, got.Text, "don't have sufficient context")
	assert.Contains(t, got.Text, "non-generative fallback")
}

func TestSystemPromptCarriesRefusal(t *testing.T) {
	assert.Contains(t, systemPrompt, Refusal)
	assert.Contains(t, systemPrompt, "ONLY")
	assert.Contains(t, systemPrompt, "markdown")
}
