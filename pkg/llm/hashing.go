package llm

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// HashingEmbedder maps bag-of-words term counts into a fixed number of
// buckets. It needs no model download and is fully deterministic, which makes
// it the offline provider.
type HashingEmbedder struct {
	dims      int
	stopwords map[string]struct{}
}

func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = 512
	}
	return &HashingEmbedder{
		dims:      dims,
		stopwords: stopwordSet(),
	}
}

func (e *HashingEmbedder) Dimensions() int { return e.dims }

func (e *HashingEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *HashingEmbedder) embed(text string) []float32 {
	vec := make([]float64, e.dims)

	tokens := e.tokenize(text)
	if len(tokens) == 0 {
		// text made only of punctuation still needs a usable vector
		vec[0] = 1
	}
	for _, tok := range tokens {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%uint32(e.dims)]++
	}

	// L2 normalize
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, e.dims)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func (e *HashingEmbedder) tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	// a question made only of stopwords is embedded by its raw tokens
	if len(out) == 0 {
		return raw
	}
	return out
}

func stopwordSet() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by",
		"with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "its", "this", "that", "these",
		"those", "from", "into", "about", "than", "so", "such", "can", "will", "just", "should", "now", "has",
		"he", "she", "what", "which", "who", "how", "does", "do", "did", "say", "says", "tell", "me", "you",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
