package ai

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/xxxsen/contentvec/internal/model"
)

// hashingEmbedProvider is a local feature-hashing embedder. Every token is
// hashed to a signed bucket, so texts sharing tokens land close to each other.
// It needs no network and is used for offline runs and tests.
type hashingEmbedProvider struct {
	dimension int
}

type hashingConfig struct {
	Dimension int `json:"dimension"`
}

func NewHashingEmbedProvider(dimension int) IEmbedProvider {
	if dimension <= 0 {
		dimension = model.EmbeddingDimension
	}
	return &hashingEmbedProvider{dimension: dimension}
}

func (p *hashingEmbedProvider) Name() string {
	return "hashing"
}

func (p *hashingEmbedProvider) Embed(ctx context.Context, _ string, text string, _ string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		if pe, ok := classifyContextErr(p.Name(), err); ok {
			return nil, pe
		}
		return nil, newProviderError(p.Name(), KindTransient, err)
	}
	vec := make([]float32, p.dimension)
	for _, token := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		bucket := int(sum % uint64(p.dimension))
		if sum&(1<<63) != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_')
	})
}

func createHashingEmbedFactory(args interface{}) (IEmbedProvider, error) {
	cfg := &hashingConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return NewHashingEmbedProvider(cfg.Dimension), nil
}

func init() {
	RegisterEmbed("hashing", createHashingEmbedFactory)
}
