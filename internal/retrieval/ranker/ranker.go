// Package ranker scores corpus rows against a query vector and selects the
// best rows.
package ranker

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/tfidf"
)

// Scored is a corpus row paired with its cosine similarity to the query.
type Scored struct {
	Row   int     `json:"row"`
	Score float64 `json:"score"`
}

// Dot returns the inner product of two sparse vectors with ascending
// indices. For unit vectors this is their cosine similarity.
func Dot(a, b tfidf.Vector) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(a.Indices) && j < len(b.Indices) {
		switch {
		case a.Indices[i] == b.Indices[j]:
			sum += a.Weights[i] * b.Weights[j]
			i++
			j++
		case a.Indices[i] < b.Indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// Similarity is Dot clamped to [0, 1] to absorb rounding drift.
func Similarity(a, b tfidf.Vector) float64 {
	s := Dot(a, b)
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Rank returns the min(limit, len(rows)) rows most similar to query, ordered
// by score descending and then row index ascending. A zero query scores
// every row 0, so the first rows in corpus order are returned.
func Rank(query tfidf.Vector, rows []tfidf.Vector, limit int) []Scored {
	if limit <= 0 || len(rows) == 0 {
		return []Scored{}
	}
	if limit > len(rows) {
		limit = len(rows)
	}
	h := make(scoredHeap, 0, limit+1)
	for i, row := range rows {
		s := Scored{Row: i}
		if !query.IsZero() {
			s.Score = Similarity(query, row)
		}
		if len(h) == limit {
			if !better(s, h[0]) {
				continue
			}
			h[0] = s
			heap.Fix(&h, 0)
			continue
		}
		heap.Push(&h, s)
	}
	result := make([]Scored, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&h).(Scored)
	}
	return result
}

// better reports whether a ranks ahead of b.
func better(a, b Scored) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Row < b.Row
}

// scoredHeap is a min-heap on rank: the root is the worst row kept so far.
type scoredHeap []Scored

func (h scoredHeap) Len() int { return len(h) }

func (h scoredHeap) Less(i, j int) bool { return better(h[j], h[i]) }

func (h scoredHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredHeap) Push(x interface{}) {
	*h = append(*h, x.(Scored))
}

func (h *scoredHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
