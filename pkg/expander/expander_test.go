package expander

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/xhad/askdocs/internal/models"
)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	args := m.Called(ctx, system, prompt)
	return args.String(0), args.Error(1)
}

func texts(variants []models.QueryVariant) []string {
	out := make([]string, len(variants))
	for i, v := range variants {
		out[i] = v.Text
	}
	return out
}

func TestExpand(t *testing.T) {
	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, systemPrompt, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "Write 3 alternative phrasings") && strings.Contains(p, "What is the refund policy?")
	})).Return("1. How do refunds work?\n2) What   is the REFUND policy?\n- Can I get my money back?\n\n* \"Which purchases are refundable?\"\n", nil)

	variants := New(gen, nil).Expand(context.Background(), "What is the refund policy?", 3)

	assert.Equal(t, []string{
		"What is the refund policy?",
		"How do refunds work?",
		"Can I get my money back?",
		"Which purchases are refundable?",
	}, texts(variants))
	assert.Equal(t, models.OriginOriginal, variants[0].Origin)
	for _, v := range variants[1:] {
		assert.Equal(t, models.OriginGenerated, v.Origin)
	}
	gen.AssertExpectations(t)
}

func TestExpandCapsAtK(t *testing.T) {
	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return("first\nsecond\nthird\nfourth", nil)

	variants := New(gen, nil).Expand(context.Background(), "question", 2)
	assert.Equal(t, []string{"question", "first", "second"}, texts(variants))
}

func TestExpandDropsDuplicates(t *testing.T) {
	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return("Other wording\nother   WORDING\nquestion  text", nil)

	variants := New(gen, nil).Expand(context.Background(), "Question text", 3)
	assert.Equal(t, []string{"Question text", "Other wording"}, texts(variants))
}

func TestExpandFallsBackToOriginal(t *testing.T) {
	tests := []struct {
		name string
		out  string
		err  error
	}{
		{"generator error", "", errors.New("connection refused")},
		{"empty output", "", nil},
		{"only the original", "1. the question\n\n  \n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := new(mockGenerator)
			gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(tt.out, tt.err)

			variants := New(gen, nil).Expand(context.Background(), "The question", 3)
			assert.Equal(t, []models.QueryVariant{{Text: "The question", Origin: models.OriginOriginal}}, variants)
		})
	}
}

func TestExpandWithoutGeneration(t *testing.T) {
	variants := New(nil, nil).Expand(context.Background(), "q", 3)
	assert.Len(t, variants, 1)

	gen := new(mockGenerator)
	variants = New(gen, nil).Expand(context.Background(), "q", 0)
	assert.Len(t, variants, 1)
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestClean(t *testing.T) {
	tests := map[string]string{
		"1. How?":         "How?",
		"  12) Why not?":  "Why not?",
		"- bullet":        "bullet",
		"• dot":           "dot",
		"Q1: labelled":    "labelled",
		"Q: labelled":     "labelled",
		"q2) lower":       "lower",
		"I: need the fee": "I: need the fee",
		"A) which one?":   "A) which one?",
		"\"quoted\"":      "quoted",
		"plain question?": "plain question?",
		"3.5 kg is heavy": "3.5 kg is heavy",
	}
	for in, want := range tests {
		assert.Equal(t, want, clean(in), in)
	}
}
