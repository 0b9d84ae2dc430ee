package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"catsearch/internal/vecmath"
)

// Compile-time interface check.
var _ Embedder = (*Hashing)(nil)

const defaultHashDims = 384

// Hashing is a stateless feature-hashing embedder. Each token hashes to a
// fixed bucket with a hash-derived sign, term frequencies accumulate into
// the buckets, and the result is L2-normalized.
//
// Unlike a trained vocabulary, the mapping never depends on the corpus, so
// query vectors stay comparable to passage vectors persisted in an earlier
// process. It exists for offline runs and tests; retrieval quality comes
// from the remote model.
type Hashing struct {
	dims int
}

// NewHashing creates a hashing embedder with the given vector width.
func NewHashing(dims int) *Hashing {
	if dims <= 0 {
		dims = defaultHashDims
	}
	return &Hashing{dims: dims}
}

func (h *Hashing) Name() string    { return "hash" }
func (h *Hashing) Dimensions() int { return h.dims }

// Embed converts texts to hashed term-frequency vectors.
func (h *Hashing) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vec := make([]float32, h.dims)
		words := tokenize(text)
		for _, w := range words {
			bucket, sign := h.hash(w)
			vec[bucket] += sign / float32(len(words))
		}
		vecmath.Normalize(vec)
		vectors[i] = vec
	}
	return vectors, nil
}

func (h *Hashing) hash(word string) (int, float32) {
	f := fnv.New64a()
	f.Write([]byte(word))
	sum := f.Sum64()

	sign := float32(1)
	if sum>>63 == 1 {
		sign = -1
	}
	return int(sum % uint64(h.dims)), sign
}

// tokenize splits text into lowercase words.
func tokenize(text string) []string {
	var words []string
	var word strings.Builder

	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word.WriteRune(r)
		} else if word.Len() > 0 {
			words = append(words, word.String())
			word.Reset()
		}
	}
	if word.Len() > 0 {
		words = append(words, word.String())
	}

	return words
}
