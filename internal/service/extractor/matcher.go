package extractor

import (
	"cmp"
	"slices"
)

type phrase struct {
	text   string
	tokens []string
	weight float64
}

// matcher finds keyword phrases in a token stream on word boundaries.
type matcher struct {
	byHead map[string][]phrase
}

func newMatcher(weights map[string]float64) *matcher {
	m := &matcher{byHead: make(map[string][]phrase, len(weights))}
	for text, w := range weights {
		tokens := tokenize(text)
		if len(tokens) == 0 {
			continue
		}
		if w < 0 {
			w = 0
		}
		m.byHead[tokens[0]] = append(m.byHead[tokens[0]], phrase{text: text, tokens: tokens, weight: w})
	}
	// map iteration order must not leak into results
	for head := range m.byHead {
		slices.SortFunc(m.byHead[head], func(a, b phrase) int {
			return cmp.Or(cmp.Compare(len(b.tokens), len(a.tokens)), cmp.Compare(a.text, b.text))
		})
	}
	return m
}

func newListMatcher(phrases []string) *matcher {
	weights := make(map[string]float64, len(phrases))
	for _, p := range phrases {
		weights[p] = 1
	}
	return newMatcher(weights)
}

func (m *matcher) phraseAt(tokens []string, i int) (phrase, bool) {
	for _, p := range m.byHead[tokens[i]] {
		if len(p.tokens) <= len(tokens)-i && slices.Equal(p.tokens, tokens[i:i+len(p.tokens)]) {
			return p, true
		}
	}
	return phrase{}, false
}

// each calls fn for every non-overlapping phrase occurrence, longest first.
func (m *matcher) each(tokens []string, fn func(phrase)) {
	for i := 0; i < len(tokens); {
		p, ok := m.phraseAt(tokens, i)
		if !ok {
			i++
			continue
		}
		fn(p)
		i += len(p.tokens)
	}
}

func (m *matcher) any(tokens []string) bool {
	for i := range tokens {
		if _, ok := m.phraseAt(tokens, i); ok {
			return true
		}
	}
	return false
}

func (m *matcher) weight(tokens []string) float64 {
	var sum float64
	m.each(tokens, func(p phrase) { sum += p.weight })
	return sum
}
