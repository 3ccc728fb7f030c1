package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashBackend is a deterministic bag-of-words embedder. Unigrams and bigrams
// are hashed into a fixed number of buckets with a sign bit, weighted by
// log-scaled term frequency and L2-normalized. It needs no external service.
type HashBackend struct {
	dim int
}

func NewHashBackend(dim int) *HashBackend {
	if dim <= 0 {
		dim = 384
	}
	return &HashBackend{dim: dim}
}

func (b *HashBackend) Name() string { return "hash" }

func (b *HashBackend) Dimension() int { return b.dim }

func (b *HashBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = b.vector(t)
	}
	return out, nil
}

func (b *HashBackend) vector(text string) []float32 {
	tokens := tokenize(text)
	counts := make(map[string]int, len(tokens)*2)
	for i, tok := range tokens {
		counts[tok]++
		if i > 0 {
			counts[tokens[i-1]+" "+tok]++
		}
	}

	acc := make([]float64, b.dim)
	for term, n := range counts {
		h := fnv.New64a()
		h.Write([]byte(term))
		sum := h.Sum64()
		bucket := int(sum % uint64(b.dim))
		weight := 1 + math.Log(float64(n))
		if sum&(1<<63) != 0 {
			weight = -weight
		}
		acc[bucket] += weight
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	vec := make([]float32, b.dim)
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
