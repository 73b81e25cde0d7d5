package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/xhad/askdocs/internal/types"
)

// Refusal is the sentence the live backend is told to use when the context
// does not answer the question.
const Refusal = "I don't have enough information to answer that question based on the provided documents."

const previewChars = 500

const systemPrompt = `You are an intelligent document assistant powered by retrieval-augmented generation.
Your task is to provide accurate, relevant and context-specific answers based on the documents provided to you.

**Instructions:**
- Answer questions using ONLY the information from the provided context (retrieved documents).
- If the context contains sufficient information, provide a clear, detailed and well-structured answer.
- If the context is insufficient or the information is not available, respond with: '` + Refusal + `'
- Format your responses using markdown for better readability (headings, bullet points, code blocks or tables where appropriate).
- Be concise yet comprehensive.
- When appropriate, reference the specific parts of the documents you are using.
- If multiple documents contain relevant information, synthesize it coherently.
- Do NOT make assumptions or add information that is not present in the context.`

type Mode int

const (
	ModeLive Mode = iota
	ModeFallback
)

func (m Mode) String() string {
	if m == ModeLive {
		return "live"
	}
	return "fallback"
}

// Backend produces the final answer text. The mode is fixed at construction.
type Backend struct {
	mode   Mode
	gen    types.Generator
	logger arbor.ILogger
}

// New returns a backend in the given mode. A live backend without a
// generator is built as a fallback backend.
func New(mode Mode, gen types.Generator, logger arbor.ILogger) *Backend {
	if logger == nil {
		logger = arbor.NewNoOpLogger()
	}
	if gen == nil {
		mode = ModeFallback
	}
	return &Backend{mode: mode, gen: gen, logger: logger}
}

func (b *Backend) Live() bool {
	return b.mode == ModeLive
}

func (b *Backend) Mode() Mode {
	return b.mode
}

// Generate never fails. A live backend whose generator errors or returns
// nothing answers with the fallback text for that call.
func (b *Backend) Generate(ctx context.Context, contextText, question string) types.GeneratedAnswer {
	if b.mode == ModeFallback {
		return Fallback(contextText, question)
	}

	text, err := b.gen.Generate(ctx, systemPrompt, UserPrompt(contextText, question))
	if err == nil && strings.TrimSpace(text) != "" {
		return types.GeneratedAnswer{Text: strings.TrimSpace(text)}
	}
	if err == nil {
		err = fmt.Errorf("empty completion")
	}
	b.logger.Warn().Err(err).Msg("Generation failed, answering with fallback")
	return Fallback(contextText, question)
}

func UserPrompt(contextText, question string) string {
	return fmt.Sprintf("Context from retrieved documents:\n%s\n---\nNow, here is the question you need to answer:\n\nQuestion: %s", contextText, question)
}

// Fallback builds the deterministic, non-generative answer.
func Fallback(contextText, question string) types.GeneratedAnswer {
	var sb strings.Builder
	if strings.TrimSpace(contextText) != "" {
		fmt.Fprintf(&sb, "Based on the retrieved document context, here's the answer to your question: %q\n\n", question)
		sb.WriteString("**Context Summary:**\n")
		sb.WriteString(preview(contextText, previewChars))
		sb.WriteString("\n\n**Note:** This is a non-generative fallback response. The retrieval pipeline found the passages above, ")
		sb.WriteString("but no text-generation model is available to compose an answer from them.")
	} else {
		fmt.Fprintf(&sb, "I received your question: %q\n\n", question)
		sb.WriteString("However, I don't have sufficient context from the documents to provide a detailed answer. This could mean:\n\n")
		sb.WriteString("1. No documents have been uploaded yet\n")
		sb.WriteString("2. The uploaded documents don't contain information related to your query\n")
		sb.WriteString("3. The query expansion didn't find relevant chunks\n\n")
		sb.WriteString("**Note:** This is a non-generative fallback response.")
	}
	return types.GeneratedAnswer{Text: sb.String(), Degraded: true}
}

func preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
