package processor

import (
	"fmt"

	"github.com/xhad/askdocs/internal/models"
)

// Separators in priority order. The empty separator means a hard cut.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Chunk splits text into overlapping windows of at most ChunkSize runes.
//
// Each window ends just after the highest-priority separator found in the
// tail of the window, falling back to a hard cut at ChunkSize. The next window
// starts ChunkOverlap runes before the previous end, so adjacent chunks share
// exactly ChunkOverlap characters.
func (p *Processor) Chunk(text, documentID string) []models.Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var spans [][2]int
	start := 0
	for {
		if len(runes)-start <= p.config.ChunkSize {
			spans = append(spans, [2]int{start, len(runes)})
			break
		}
		end := p.splitPoint(runes, start)
		spans = append(spans, [2]int{start, end})
		start = end - p.config.ChunkOverlap
	}

	chunks := make([]models.Chunk, len(spans))
	for i, span := range spans {
		body := string(runes[span[0]:span[1]])
		chunks[i] = models.Chunk{
			ID:          ChunkID(documentID, i),
			DocumentID:  documentID,
			Index:       i,
			TotalChunks: len(spans),
			Text:        body,
			Length:      span[1] - span[0],
		}
	}
	return chunks
}

// splitPoint picks the end of the window starting at start. The end always
// lies in (start+overlap, start+size], which keeps every window within the
// size limit and guarantees forward progress.
func (p *Processor) splitPoint(runes []rune, start int) int {
	limit := start + p.config.ChunkSize
	floor := start + p.config.ChunkOverlap

	for _, sep := range p.separators {
		if sep == "" {
			break
		}
		if end := lastBoundary(runes, floor, limit, []rune(sep)); end > 0 {
			return end
		}
	}
	return limit
}

// lastBoundary returns the largest end in (floor, limit] such that the runes
// right before end equal sep, or 0 if there is none.
func lastBoundary(runes []rune, floor, limit int, sep []rune) int {
	for end := limit; end > floor; end-- {
		if end-len(sep) < 0 {
			return 0
		}
		if hasSeparator(runes[end-len(sep):end], sep) {
			return end
		}
	}
	return 0
}

func hasSeparator(window, sep []rune) bool {
	for i := range sep {
		if window[i] != sep[i] {
			return false
		}
	}
	return true
}

// ChunkID derives the id of the index-th chunk of a document.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s:%d", documentID, index)
}
