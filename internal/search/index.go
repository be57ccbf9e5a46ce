// Package search scores short web-search snippets against a query using
// lexical overlap. It backs the relevance ordering of live search results
// when the upstream model does not report a relevance of its own.
//
//   - No logging in the library (callers decide how/what to log)
//   - Unicode-aware tokenization with optional stop-word removal
//   - Immutable after construction (safe for concurrent use)
//   - Deterministic scoring and sorting (stable order for ties)
//
// Scoring uses Jaccard similarity between the query token set and each
// document's token set: score = |Q ∩ D| / |Q ∪ D|.
package search

import (
	"regexp"
	"sort"
	"strings"
)

// Doc is one document to rank. A non-nil Score is taken as-is; otherwise
// the document's Text is scored against the query.
type Doc struct {
	Text  string
	Score *float64
}

// Ranked is the score of one input document, identified by its position
// in the slice passed to Rank.
type Ranked struct {
	Pos   int
	Score float64
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	stopwords map[string]struct{}
}

func defaultConfig() config {
	return config{stopwords: toSet(EnglishStopwords)}
}

// EnglishStopwords is the default stop-word list. It keeps filler words from
// inflating overlap between a topic and a snippet.
var EnglishStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from", "has",
	"in", "is", "it", "its", "of", "on", "or", "that", "the", "this", "to",
	"was", "were", "will", "with",
}

// WithStopwords replaces the stop-word list. An empty list disables
// stop-word removal.
func WithStopwords(words []string) Option {
	return func(c *config) {
		c.stopwords = toSet(words)
	}
}

func toSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			m[w] = struct{}{}
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// ----------------------------------------------------------------------------
// Scorer

// Scorer computes lexical similarity between texts.
type Scorer struct {
	cfg config
}

// NewScorer returns a Scorer configured by opts.
func NewScorer(opts ...Option) *Scorer {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Scorer{cfg: cfg}
}

// Similarity returns the Jaccard similarity of a and b in [0, 1].
// Texts without any word tokens score 0.
func (s *Scorer) Similarity(a, b string) float64 {
	return jaccard(tokenize(a, s.cfg.stopwords), tokenize(b, s.cfg.stopwords))
}

// Rank returns every document best first. Documents without a Score are
// scored lexically against query; ties keep their input order, and
// documents sharing no tokens with the query score 0.
func (s *Scorer) Rank(query string, docs []Doc) []Ranked {
	if len(docs) == 0 {
		return nil
	}
	out := make([]Ranked, len(docs))
	for i, d := range docs {
		out[i].Pos = i
		if d.Score != nil {
			out[i].Score = *d.Score
			continue
		}
		out[i].Score = s.Similarity(query, d.Text)
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Score > out[b].Score
	})
	return out
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*|\p{N}+`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	s = strings.ToLower(s)
	words := wordRE.FindAllString(s, -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	over := overlap(a, b)
	if over == 0 {
		return 0
	}
	return float64(over) / float64(len(a)+len(b)-over)
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}
