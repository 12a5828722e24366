// Package tfidf builds the fixed vocabulary, IDF table and document-weight
// matrix for a corpus of processed texts, and projects new queries into the
// same space.
//
// Weights are raw term counts times a smoothed IDF, and every vector is
// L2-normalised, so the dot product of two vectors is their cosine
// similarity.
package tfidf

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Vector is a sparse weight vector. Indices are strictly ascending column
// indices into the vocabulary; Weights is parallel to Indices.
type Vector struct {
	Indices []int     `cbor:"1,keyasint"`
	Weights []float64 `cbor:"2,keyasint"`
}

// Len returns the number of non-zero entries.
func (v Vector) Len() int {
	return len(v.Indices)
}

// IsZero reports whether v has no non-zero entries.
func (v Vector) IsZero() bool {
	return len(v.Indices) == 0
}

// Model is a built TF-IDF index. It is immutable after Build or Restore and
// safe for concurrent use.
type Model struct {
	terms   []string
	idf     []float64
	rows    []Vector
	columns map[string]int
}

// Build fits the vocabulary and IDF table on docs and weights every
// document. Each doc is a processed text: terms separated by whitespace.
// The vocabulary is sorted so the same docs always yield the same model.
func Build(docs []string) *Model {
	docTerms := make([][]string, len(docs))
	docFreq := make(map[string]int)
	for i, doc := range docs {
		terms := strings.Fields(doc)
		docTerms[i] = terms
		seen := make(map[string]struct{}, len(terms))
		for _, t := range terms {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			docFreq[t]++
		}
	}

	terms := make([]string, 0, len(docFreq))
	for t := range docFreq {
		terms = append(terms, t)
	}
	sort.Strings(terms)

	n := float64(len(docs))
	idf := make([]float64, len(terms))
	for i, t := range terms {
		idf[i] = smoothIDF(n, float64(docFreq[t]))
	}

	m := &Model{
		terms:   terms,
		idf:     idf,
		columns: columnIndex(terms),
	}
	m.rows = make([]Vector, len(docs))
	for i, dt := range docTerms {
		m.rows[i] = m.weigh(dt)
	}
	return m
}

// smoothIDF is ln((1+n)/(1+df)) + 1: never zero, so a term present in every
// document still carries weight.
func smoothIDF(n, df float64) float64 {
	return math.Log((1+n)/(1+df)) + 1
}

func columnIndex(terms []string) map[string]int {
	cols := make(map[string]int, len(terms))
	for i, t := range terms {
		cols[t] = i
	}
	return cols
}

// Transform projects a processed query onto the frozen vocabulary. Terms
// outside the vocabulary are ignored; a query with no known terms yields
// the zero vector.
func (m *Model) Transform(processed string) Vector {
	return m.weigh(strings.Fields(processed))
}

func (m *Model) weigh(terms []string) Vector {
	counts := make(map[int]int, len(terms))
	for _, t := range terms {
		if col, ok := m.columns[t]; ok {
			counts[col]++
		}
	}
	if len(counts) == 0 {
		return Vector{}
	}
	indices := make([]int, 0, len(counts))
	for col := range counts {
		indices = append(indices, col)
	}
	sort.Ints(indices)

	weights := make([]float64, len(indices))
	var sumSquares float64
	for i, col := range indices {
		w := float64(counts[col]) * m.idf[col]
		weights[i] = w
		sumSquares += w * w
	}
	norm := math.Sqrt(sumSquares)
	for i := range weights {
		weights[i] /= norm
	}
	return Vector{Indices: indices, Weights: weights}
}

// Rows returns the document-weight matrix, one vector per corpus row. The
// returned slice must not be modified.
func (m *Model) Rows() []Vector {
	return m.rows
}

func (m *Model) NumDocs() int {
	return len(m.rows)
}

func (m *Model) VocabularySize() int {
	return len(m.terms)
}

// Column returns the vocabulary index of term.
func (m *Model) Column(term string) (int, bool) {
	col, ok := m.columns[term]
	return col, ok
}

// IDF returns the inverse document frequency of term, or 0 when the term
// is outside the vocabulary.
func (m *Model) IDF(term string) float64 {
	col, ok := m.columns[term]
	if !ok {
		return 0
	}
	return m.idf[col]
}

// Terms returns the vocabulary in column order. The returned slice must not
// be modified.
func (m *Model) Terms() []string {
	return m.terms
}

// IDFs returns the IDF table in column order. The returned slice must not be
// modified.
func (m *Model) IDFs() []float64 {
	return m.idf
}

// Restore reassembles a Model from persisted parts, checking that they are
// mutually consistent.
func Restore(terms []string, idf []float64, rows []Vector) (*Model, error) {
	if len(terms) != len(idf) {
		return nil, fmt.Errorf("vocabulary has %d terms but %d idf values", len(terms), len(idf))
	}
	for i := 1; i < len(terms); i++ {
		if terms[i-1] >= terms[i] {
			return nil, fmt.Errorf("vocabulary not strictly sorted at column %d", i)
		}
	}
	for r, row := range rows {
		if len(row.Indices) != len(row.Weights) {
			return nil, fmt.Errorf("row %d: %d indices but %d weights", r, len(row.Indices), len(row.Weights))
		}
		prev := -1
		for _, col := range row.Indices {
			if col <= prev || col >= len(terms) {
				return nil, fmt.Errorf("row %d: column %d out of order or range", r, col)
			}
			prev = col
		}
	}
	return &Model{
		terms:   terms,
		idf:     idf,
		rows:    rows,
		columns: columnIndex(terms),
	}, nil
}
