package knowledge

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimensions is the embedding width of the hashing embedder.
const DefaultDimensions = 512

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "to": true,
	"of": true, "and": true, "or": true, "for": true, "in": true, "on": true,
	"by": true, "but": true, "not": true, "just": true, "which": true, "what": true,
	"how": true, "do": true, "i": true, "can": true, "should": true, "be": true,
	"with": true, "where": true, "that": true, "this": true, "it": true, "has": true,
	"up": true, "use": true, "me": true, "tell": true, "about": true,
}

// HashEmbedder maps text to a fixed-width vector by hashing terms into
// buckets (signed feature hashing). It needs no network or model files.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Embed returns a unit-length vector. Text without terms embeds to a single
// fixed bucket so the vector is never zero.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)
	terms := tokenize(text)
	if len(terms) == 0 {
		vec[0] = 1
		return vec, nil
	}

	for i, term := range terms {
		h.add(vec, term, 1)
		if i > 0 {
			h.add(vec, terms[i-1]+" "+term, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func (h *HashEmbedder) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := fields[:0]
	for _, f := range fields {
		if stopWords[f] {
			continue
		}
		terms = append(terms, stem(f))
	}
	return terms
}

// stem strips a plural "s" so "metrics" and "metric" share a bucket.
func stem(term string) string {
	if len(term) > 3 && strings.HasSuffix(term, "s") && !strings.HasSuffix(term, "ss") {
		return term[:len(term)-1]
	}
	return term
}

func hasTerms(text string) bool {
	return len(tokenize(text)) > 0
}
