package vectorize

import (
	"sort"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/yungbote/labtrace-backend/internal/platform/qdrant"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {},
	"the": {}, "to": {}, "was": {}, "were": {}, "with": {}, "what": {}, "my": {},
}

// SparseEncoder builds term-frequency sparse vectors over hashed tokens. The
// collection applies IDF at query time, so only raw counts are stored.
type SparseEncoder struct{}

func NewSparseEncoder() *SparseEncoder { return &SparseEncoder{} }

// Encode returns indices sorted ascending with one value per index.
func (SparseEncoder) Encode(text string) qdrant.SparseVector {
	counts := map[uint32]float32{}
	for _, tok := range Tokenize(text) {
		counts[termIndex(tok)]++
	}
	out := qdrant.SparseVector{
		Indices: make([]uint32, 0, len(counts)),
		Values:  make([]float32, 0, len(counts)),
	}
	for idx := range counts {
		out.Indices = append(out.Indices, idx)
	}
	sort.Slice(out.Indices, func(i, j int) bool { return out.Indices[i] < out.Indices[j] })
	for _, idx := range out.Indices {
		out.Values = append(out.Values, counts[idx])
	}
	return out
}

// Tokenize lowercases text and splits it into words and decimal numbers,
// dropping stopwords.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".")
		if f == "" {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func termIndex(tok string) uint32 {
	return uint32(xxhash.Sum64String(tok))
}
