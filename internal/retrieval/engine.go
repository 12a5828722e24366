// Package retrieval answers free-text questions against a frozen FAQ corpus.
// An Engine couples the corpus with its TF-IDF model; a Service owns the
// one-time build and publishes the Engine to concurrent readers.
package retrieval

import (
	"fmt"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/corpus"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/ranker"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/tfidf"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/errors"
)

// DefaultTopN is used when a caller asks for fewer than one result.
const DefaultTopN = 5

// BuildSource records where an Engine's model came from.
type BuildSource string

const (
	BuiltFromSnapshot BuildSource = "snapshot"
	BuiltFromCorpus   BuildSource = "rebuild"
)

// Match is a corpus entry with its similarity to the query, in [0, 1].
type Match struct {
	corpus.Entry
	Score float64 `json:"score"`
}

// Engine is an immutable corpus plus model pair. All methods are safe for
// concurrent use.
type Engine struct {
	corpus  *corpus.Corpus
	model   *tfidf.Model
	source  BuildSource
	builtAt time.Time
}

// NewEngine pairs c with a model built from it.
func NewEngine(c *corpus.Corpus, m *tfidf.Model, source BuildSource) (*Engine, error) {
	if m.NumDocs() != c.Len() {
		return nil, fmt.Errorf("model has %d rows but corpus has %d entries", m.NumDocs(), c.Len())
	}
	return &Engine{
		corpus:  c,
		model:   m,
		source:  source,
		builtAt: time.Now(),
	}, nil
}

// BuildEngine weights c from scratch.
func BuildEngine(c *corpus.Corpus) *Engine {
	return &Engine{
		corpus:  c,
		model:   tfidf.Build(c.ProcessedQuestions()),
		source:  BuiltFromCorpus,
		builtAt: time.Now(),
	}
}

// Retrieve returns the min(topN, corpus size) entries most similar to query,
// best first, ties broken by ascending row. topN below 1 means DefaultTopN.
// A query with no known terms scores every row 0 and yields the first rows
// in corpus order.
func (e *Engine) Retrieve(query string, topN int) []Match {
	return e.RetrieveProcessed(tokenizer.Process(query), topN)
}

// RetrieveProcessed is Retrieve for a query that has already been through
// tokenizer.Process.
func (e *Engine) RetrieveProcessed(processed string, topN int) []Match {
	if topN < 1 {
		topN = DefaultTopN
	}
	q := e.model.Transform(processed)
	ranked := ranker.Rank(q, e.model.Rows(), topN)
	matches := make([]Match, len(ranked))
	for i, r := range ranked {
		entry, _ := e.corpus.Entry(r.Row)
		matches[i] = Match{Entry: entry, Score: r.Score}
	}
	return matches
}

func (e *Engine) Corpus() *corpus.Corpus {
	return e.corpus
}

func (e *Engine) Model() *tfidf.Model {
	return e.model
}

func (e *Engine) Fingerprint() corpus.Fingerprint {
	return e.corpus.Fingerprint()
}

// Source reports whether the model was loaded from a snapshot or rebuilt.
func (e *Engine) Source() BuildSource {
	return e.source
}

func (e *Engine) BuiltAt() time.Time {
	return e.builtAt
}

// ValidateQuery rejects queries that are empty after trimming.
func ValidateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return apperrors.New(apperrors.ErrEmptyQuery, 400, "Empty query")
	}
	return nil
}

// NoMatch reports whether matches should be presented as "no relevant
// answer": either nothing came back or the best score is at most minScore.
func NoMatch(matches []Match, minScore float64) bool {
	return len(matches) == 0 || matches[0].Score <= minScore
}
