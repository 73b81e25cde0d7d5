package expander

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/xhad/askdocs/internal/models"
	"github.com/xhad/askdocs/internal/types"
)

const systemPrompt = `You rewrite search questions. Given a question, write alternative phrasings that ask for the same information using different words.
Reply with one phrasing per line. Do not number the lines, do not answer the question and do not add any other text.`

// Leading list markers: "1.", "2)", "-", "*", "•", "Q:", "Q1:". Other
// letters are left alone since "I: " or "A) " can open a real phrasing.
var listMarker = regexp.MustCompile(`^\s*(?:[-*•]+|\(?\d+[.):]|[Qq]\d*[.:)])\s+`)

// Expander asks a generator for paraphrases of a question. It never fails:
// whatever goes wrong, the original question is still returned.
type Expander struct {
	gen    types.Generator
	logger arbor.ILogger
}

func New(gen types.Generator, logger arbor.ILogger) *Expander {
	if logger == nil {
		logger = arbor.NewNoOpLogger()
	}
	return &Expander{gen: gen, logger: logger}
}

// Expand returns the original question first, followed by at most k
// distinct generated paraphrases.
func (e *Expander) Expand(ctx context.Context, question string, k int) []models.QueryVariant {
	variants := []models.QueryVariant{{Text: question, Origin: models.OriginOriginal}}
	if k <= 0 || e.gen == nil {
		return variants
	}

	prompt := fmt.Sprintf("Write %d alternative phrasings of this question:\n\n%s", k, question)
	out, err := e.gen.Generate(ctx, systemPrompt, prompt)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Query expansion failed, using the original question only")
		return variants
	}

	seen := map[string]bool{normalize(question): true}
	for _, line := range strings.Split(out, "\n") {
		if len(variants) > k {
			break
		}
		text := clean(line)
		key := normalize(text)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		variants = append(variants, models.QueryVariant{Text: text, Origin: models.OriginGenerated})
	}

	e.logger.Debug().Int("generated", len(variants)-1).Int("requested", k).Msg("Query expanded")
	return variants
}

func clean(line string) string {
	line = listMarker.ReplaceAllString(line, "")
	line = strings.TrimSpace(line)
	return strings.Trim(line, `"'`+"`")
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
