package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

const defaultHashDimensions = 256

// HashEmbedder is an offline embedder based on feature hashing of words and
// character trigrams. It needs no model server, so it backs tests and setups
// where Ollama is not installed. Similar wording yields similar vectors, which
// is all the duplicate check needs.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = defaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) EmbedDocument(_ context.Context, text string) ([]float32, error) {
	return h.vector(text), nil
}

func (h *HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return h.vector(text), nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, h.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		h.add(v, "w:"+word, 1)
		padded := []rune("^" + word + "$")
		for i := 0; i+3 <= len(padded); i++ {
			h.add(v, "t:"+string(padded[i:i+3]), 0.5)
		}
	}
	return v
}

func (h *HashEmbedder) add(v []float32, feature string, weight float32) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}
