package store

import (
	"math"
	"sort"

	"github.com/xhad/askdocs/internal/models"
)

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SortHits orders hits by descending score. Equal scores fall back to the
// lower chunk index and then the smaller chunk id.
func SortHits(hits []models.SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Record.Index != b.Record.Index {
			return a.Record.Index < b.Record.Index
		}
		return a.Record.ID < b.Record.ID
	})
}

func topK(hits []models.SearchHit, k int) []models.SearchHit {
	SortHits(hits)
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
