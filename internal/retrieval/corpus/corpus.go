// Package corpus holds the immutable, ordered FAQ table the retrieval engine
// searches. Entries keep their load order: an entry's ID is its row index in
// the document-weight matrix and the tie-break key when ranking.
package corpus

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/internal/retrieval/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/errors"
	"github.com/zeebo/blake3"
)

// Pair is one question/answer row as supplied by a Source.
type Pair struct {
	Question string
	Answer   string
}

// Entry is a loaded FAQ row. The JSON names match the records the API has
// always returned.
type Entry struct {
	ID                int    `json:"id"`
	Question          string `json:"Question"`
	Answer            string `json:"Answer"`
	ProcessedQuestion string `json:"processed_question"`
}

// Fingerprint identifies corpus content. Two corpora with the same
// fingerprint produce the same index.
type Fingerprint [32]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Short returns the first 12 hex characters, for logs and cache keys.
func (f Fingerprint) Short() string {
	return hex.EncodeToString(f[:6])
}

// Corpus is the read-only FAQ table. It is safe for concurrent use.
type Corpus struct {
	entries     []Entry
	fingerprint Fingerprint
}

// New builds a Corpus from pairs in order, computing each processed
// question. It returns ErrCorpusUnavailable when pairs is empty.
func New(pairs []Pair) (*Corpus, error) {
	if len(pairs) == 0 {
		return nil, apperrors.New(apperrors.ErrCorpusUnavailable, 503, "corpus has no entries")
	}
	entries := make([]Entry, len(pairs))
	for i, p := range pairs {
		entries[i] = Entry{
			ID:                i,
			Question:          p.Question,
			Answer:            p.Answer,
			ProcessedQuestion: tokenizer.Process(p.Question),
		}
	}
	return &Corpus{
		entries:     entries,
		fingerprint: fingerprint(pairs),
	}, nil
}

// fingerprint hashes the tokenizer version and every question and answer,
// each prefixed with its length so field boundaries are unambiguous.
func fingerprint(pairs []Pair) Fingerprint {
	h := blake3.New()
	var lenBuf [8]byte
	write := func(s string) {
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(s)))
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	write(tokenizer.Version)
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(pairs)))
	h.Write(lenBuf[:])
	for _, p := range pairs {
		write(p.Question)
		write(p.Answer)
	}
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

func (c *Corpus) Len() int {
	return len(c.entries)
}

// Entry returns the entry at row i.
func (c *Corpus) Entry(i int) (Entry, error) {
	if i < 0 || i >= len(c.entries) {
		return Entry{}, fmt.Errorf("corpus row %d out of range [0,%d)", i, len(c.entries))
	}
	return c.entries[i], nil
}

func (c *Corpus) Fingerprint() Fingerprint {
	return c.fingerprint
}

// ProcessedQuestions returns the processed question of every row, in row
// order.
func (c *Corpus) ProcessedQuestions() []string {
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.ProcessedQuestion
	}
	return out
}

// Page returns the entries on the 1-based page of size perPage together
// with the total entry count. Pages past the end are empty.
func (c *Corpus) Page(page, perPage int) ([]Entry, int) {
	total := len(c.entries)
	if page < 1 || perPage < 1 {
		return []Entry{}, total
	}
	start := (page - 1) * perPage
	if start >= total {
		return []Entry{}, total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	out := make([]Entry, end-start)
	copy(out, c.entries[start:end])
	return out, total
}
