// Package tokenizer normalises free text for the FAQ index. It lower-cases
// input, splits it into word and punctuation tokens, drops punctuation and,
// for inputs longer than ShortInputTokens, drops English stop-words.
package tokenizer

import (
	"strings"
	"unicode"
)

// Version identifies the normalisation rules. It is mixed into the corpus
// fingerprint so a rules change invalidates persisted indexes.
const Version = "faq-tokenizer/1"

// ShortInputTokens is the largest pre-filter token count for which
// stop-words are kept.
const ShortInputTokens = 4

// NLTK English stop-word list.
var stopWords = map[string]struct{}{
	"i": {}, "me": {}, "my": {}, "myself": {}, "we": {}, "our": {}, "ours": {},
	"ourselves": {}, "you": {}, "you're": {}, "you've": {}, "you'll": {}, "you'd": {},
	"your": {}, "yours": {}, "yourself": {}, "yourselves": {}, "he": {}, "him": {},
	"his": {}, "himself": {}, "she": {}, "she's": {}, "her": {}, "hers": {},
	"herself": {}, "it": {}, "it's": {}, "its": {}, "itself": {}, "they": {},
	"them": {}, "their": {}, "theirs": {}, "themselves": {}, "what": {}, "which": {},
	"who": {}, "whom": {}, "this": {}, "that": {}, "that'll": {}, "these": {},
	"those": {}, "am": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"been": {}, "being": {}, "have": {}, "has": {}, "had": {}, "having": {},
	"do": {}, "does": {}, "did": {}, "doing": {}, "a": {}, "an": {}, "the": {},
	"and": {}, "but": {}, "if": {}, "or": {}, "because": {}, "as": {}, "until": {},
	"while": {}, "of": {}, "at": {}, "by": {}, "for": {}, "with": {}, "about": {},
	"against": {}, "between": {}, "into": {}, "through": {}, "during": {},
	"before": {}, "after": {}, "above": {}, "below": {}, "to": {}, "from": {},
	"up": {}, "down": {}, "in": {}, "out": {}, "on": {}, "off": {}, "over": {},
	"under": {}, "again": {}, "further": {}, "then": {}, "once": {}, "here": {},
	"there": {}, "when": {}, "where": {}, "why": {}, "how": {}, "all": {}, "any": {},
	"both": {}, "each": {}, "few": {}, "more": {}, "most": {}, "other": {},
	"some": {}, "such": {}, "no": {}, "nor": {}, "not": {}, "only": {}, "own": {},
	"same": {}, "so": {}, "than": {}, "too": {}, "very": {}, "s": {}, "t": {},
	"can": {}, "will": {}, "just": {}, "don": {}, "don't": {}, "should": {},
	"should've": {}, "now": {}, "d": {}, "ll": {}, "m": {}, "o": {}, "re": {},
	"ve": {}, "y": {}, "ain": {}, "aren": {}, "aren't": {}, "couldn": {},
	"couldn't": {}, "didn": {}, "didn't": {}, "doesn": {}, "doesn't": {}, "hadn": {},
	"hadn't": {}, "hasn": {}, "hasn't": {}, "haven": {}, "haven't": {}, "isn": {},
	"isn't": {}, "ma": {}, "mightn": {}, "mightn't": {}, "mustn": {}, "mustn't": {},
	"needn": {}, "needn't": {}, "shan": {}, "shan't": {}, "shouldn": {},
	"shouldn't": {}, "wasn": {}, "wasn't": {}, "weren": {}, "weren't": {}, "won": {},
	"won't": {}, "wouldn": {}, "wouldn't": {},
}

// Token is a single lower-cased token. Punct marks a run of symbols that
// contains no letters or digits.
type Token struct {
	Text  string
	Punct bool
}

// Split lower-cases text and breaks it into alphanumeric runs and
// punctuation runs. Whitespace separates tokens and is never emitted.
func Split(text string) []Token {
	text = strings.ToLower(text)
	tokens := make([]Token, 0, len(text)/4)
	start := -1
	punct := false
	flush := func(end int) {
		if start >= 0 {
			tokens = append(tokens, Token{Text: text[start:end], Punct: punct})
			start = -1
		}
	}
	for i, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush(i)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if start >= 0 && punct {
				flush(i)
			}
			if start < 0 {
				start, punct = i, false
			}
		default:
			if start >= 0 && !punct {
				flush(i)
			}
			if start < 0 {
				start, punct = i, true
			}
		}
	}
	flush(len(text))
	return tokens
}

// Normalize returns the terms of text that survive filtering, in order.
// Punctuation is always dropped; stop-words are dropped only when the
// pre-filter token count exceeds ShortInputTokens.
func Normalize(text string) []string {
	tokens := Split(text)
	dropStops := len(tokens) > ShortInputTokens
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Punct {
			continue
		}
		if dropStops && IsStopWord(tok.Text) {
			continue
		}
		terms = append(terms, tok.Text)
	}
	return terms
}

// Process returns the canonical processed form of text: the normalised
// terms joined by single spaces.
func Process(text string) string {
	return strings.Join(Normalize(text), " ")
}

// IsStopWord reports whether term is in the English stop-word set.
func IsStopWord(term string) bool {
	_, ok := stopWords[term]
	return ok
}
