package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultLocalDimension is the vector size of the local embedder.
const DefaultLocalDimension = 256

// localClient is a deterministic in-process embedder for deployments with
// no network access. It hashes token unigrams and bigrams into a fixed
// number of buckets and L2-normalizes the result, so identical texts map
// to identical unit vectors and token overlap drives cosine similarity.
// It is a lexical signal, not a semantic model.
type localClient struct {
	dimension int
}

// NewLocalClient creates the in-process embedder.
func NewLocalClient(dimension int) Client {
	if dimension <= 0 {
		dimension = DefaultLocalDimension
	}
	return &localClient{dimension: dimension}
}

func (c *localClient) Dimension() int {
	return c.dimension
}

func (c *localClient) EmbedOne(_ context.Context, text string) ([]float32, error) {
	return c.embed(text), nil
}

func (c *localClient) EmbedMany(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = c.embed(t)
	}
	return vectors, nil
}

func (c *localClient) embed(text string) []float32 {
	vec := make([]float32, c.dimension)
	tokens := tokenize(text)

	for i, tok := range tokens {
		vec[bucket(tok)%uint32(c.dimension)]++
		if i+1 < len(tokens) {
			vec[bucket(tok+" "+tokens[i+1])%uint32(c.dimension)]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func bucket(token string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(token))
	return h.Sum32()
}

// tokenize lowercases and splits on anything that is not a letter or
// digit. Thai has no word spacing, so runs of Thai characters are further
// broken into overlapping trigrams.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var tokens []string
	for _, f := range fields {
		runes := []rune(f)
		if isThai(runes[0]) && len(runes) > 3 {
			for i := 0; i+3 <= len(runes); i++ {
				tokens = append(tokens, string(runes[i:i+3]))
			}
		} else {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func isThai(r rune) bool {
	return r >= 0x0E00 && r <= 0x0E7F
}
