package search

import (
	"math"
	"reflect"
	"sync"
	"testing"
)

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestOptionsAndDefaults(t *testing.T) {
	def := defaultConfig()
	if _, ok := def.stopwords["the"]; !ok {
		t.Fatalf("default stopwords should include 'the'")
	}

	cfg := def
	WithStopwords([]string{"  Foo ", "", "BAR"})(&cfg)
	if _, ok := cfg.stopwords["foo"]; !ok {
		t.Fatalf("WithStopwords failed (missing 'foo'): %#v", cfg.stopwords)
	}
	if _, ok := cfg.stopwords["the"]; ok {
		t.Fatalf("WithStopwords should replace the default list")
	}

	cfg2 := def
	WithStopwords(nil)(&cfg2)
	if cfg2.stopwords != nil {
		t.Fatalf("empty list should disable stopwords")
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize("The Fed raised RATES by 25bp in 2024!", toSet([]string{"the", "by", "in"}))
	for _, w := range []string{"fed", "raised", "rates", "bp", "2024"} {
		if _, ok := got[w]; !ok {
			t.Fatalf("missing token %q in %v", w, got)
		}
	}
	if _, ok := got["the"]; ok {
		t.Fatalf("stopword leaked: %v", got)
	}
	if tokenize("!!! ---", nil) != nil {
		t.Fatalf("punctuation only should yield nil")
	}
}

func TestSimilarity(t *testing.T) {
	s := NewScorer(WithStopwords(nil))

	cases := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "carbon tax debate", "carbon tax debate", 1},
		{"disjoint", "carbon tax", "football scores", 0},
		{"partial", "carbon tax debate", "carbon tax policy", 2.0 / 4.0},
		{"case-insensitive", "Carbon TAX", "carbon tax", 1},
		{"empty", "", "carbon", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.Similarity(tc.a, tc.b); !almost(got, tc.want) {
				t.Fatalf("Similarity(%q,%q) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestSimilarity_StopwordsIgnored(t *testing.T) {
	s := NewScorer()
	if got := s.Similarity("the carbon tax", "a carbon tax"); !almost(got, 1) {
		t.Fatalf("stopwords should not count, got %v", got)
	}
}

func textDocs(texts ...string) []Doc {
	out := make([]Doc, len(texts))
	for i, t := range texts {
		out[i] = Doc{Text: t}
	}
	return out
}

func TestRank_OrderAndTies(t *testing.T) {
	s := NewScorer()
	docs := textDocs(
		"weather in paris",          // 0
		"carbon tax vote tomorrow",  // some overlap
		"carbon tax debate heats",   // best
		"unrelated sports headline", // 0, tie with first
	)
	got := s.Rank("carbon tax debate", docs)
	if len(got) != len(docs) {
		t.Fatalf("expected %d ranked docs, got %d", len(docs), len(got))
	}
	if got[0].Pos != 2 || got[1].Pos != 1 {
		t.Fatalf("unexpected order: %+v", got)
	}
	// Zero-score docs keep input order.
	if got[2].Pos != 0 || got[3].Pos != 3 || got[2].Score != 0 {
		t.Fatalf("ties should be stable: %+v", got)
	}
}

func TestRank_KnownScoresKept(t *testing.T) {
	hi, lo := 0.9, 0.05
	docs := []Doc{
		{Text: "carbon tax", Score: &lo},            // lexically perfect, but scored low
		{Text: "weather report"},                    // 0
		{Text: "nothing in common", Score: &hi},     // no overlap, but scored high
		{Text: "carbon tax debate tonight on news"}, // partial overlap
	}
	got := NewScorer().Rank("carbon tax", docs)

	order := make([]int, len(got))
	for i, r := range got {
		order[i] = r.Pos
	}
	if want := []int{2, 3, 0, 1}; !reflect.DeepEqual(order, want) {
		t.Fatalf("order=%v want %v (%+v)", order, want, got)
	}
	if !almost(got[0].Score, 0.9) || !almost(got[2].Score, 0.05) {
		t.Fatalf("given scores should pass through: %+v", got)
	}
}

func TestRank_Empty(t *testing.T) {
	if NewScorer().Rank("q", nil) != nil {
		t.Fatalf("expected nil for no docs")
	}
}

func TestScorer_ConcurrentUse(t *testing.T) {
	s := NewScorer()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Similarity("carbon tax", "carbon tax") != 1 {
				t.Errorf("unexpected score")
			}
		}()
	}
	wg.Wait()
}
