package embedding

import (
	"context"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/surgebase/porter2"
)

// DefaultHashDimension is used when the hash embedder is configured without
// a dimension.
const DefaultHashDimension = 512

// HashEmbedder is a deterministic, offline embedder. Identifiers are split on
// case and punctuation boundaries, stemmed, and feature-hashed into a fixed
// number of signed buckets, with adjacent-token bigrams at half weight. Code
// that shares vocabulary and shape lands close together, which is enough for
// duplicate detection without a model.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a hash embedder with dim buckets.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &HashEmbedder{dim: dim}
}

// Embed never fails except on cancellation.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dim)
	tokens := Tokenize(text)
	for i, tok := range tokens {
		e.add(v, tok, 1)
		if i > 0 {
			e.add(v, tokens[i-1]+" "+tok, 0.5)
		}
	}
	Normalize(v)
	return v
}

func (e *HashEmbedder) add(v []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature)
	idx := h % uint64(e.dim)
	if h>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

// Dimension returns the number of buckets
func (e *HashEmbedder) Dimension() int { return e.dim }

// ModelName identifies the embedder in status output
func (e *HashEmbedder) ModelName() string { return "hash-porter2" }

// Tokenize splits source text into lowercase stemmed word tokens.
// "parseHTTPRequest_v2" yields the stems of parse, http and request, then v2.
func Tokenize(text string) []string {
	var (
		tokens []string
		word   []rune
	)
	flush := func() {
		if len(word) == 0 {
			return
		}
		tok := strings.ToLower(string(word))
		word = word[:0]
		if isAlpha(tok) {
			tok = porter2.Stem(tok)
		}
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}

	runes := []rune(text)
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(word) > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			// fooBar, or the R in HTTPRequest
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		word = append(word, r)
	}
	flush()
	return tokens
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
