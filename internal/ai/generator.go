package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/contentvec/internal/model"
	appErr "github.com/xxxsen/contentvec/internal/pkg/errors"
)

const (
	defaultMaxTokens     = 8000
	defaultCharsPerToken = 4
	defaultCallTimeout   = 30 * time.Second
)

type GeneratorConfig struct {
	Dimension     int
	MaxTokens     int
	CharsPerToken int
	Timeout       time.Duration
}

// EmbeddingGenerator turns text into a validated embedding of the configured
// dimension. It owns input budgeting, per-call timeouts and the retry policy.
type EmbeddingGenerator struct {
	embedder IEmbedder
	cfg      GeneratorConfig
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewEmbeddingGenerator(e IEmbedder, cfg GeneratorConfig) *EmbeddingGenerator {
	if cfg.Dimension <= 0 {
		cfg.Dimension = model.EmbeddingDimension
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = defaultCharsPerToken
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCallTimeout
	}
	return &EmbeddingGenerator{embedder: e, cfg: cfg, sleep: sleepContext}
}

func (g *EmbeddingGenerator) Generate(ctx context.Context, text string) ([]float32, error) {
	return g.generate(ctx, text, TaskTypeDocument)
}

func (g *EmbeddingGenerator) GenerateQuery(ctx context.Context, text string) ([]float32, error) {
	return g.generate(ctx, text, TaskTypeQuery)
}

func (g *EmbeddingGenerator) MaxChars() int {
	return g.cfg.MaxTokens * g.cfg.CharsPerToken
}

func (g *EmbeddingGenerator) ModelName() string {
	if g.embedder == nil {
		return ""
	}
	return g.embedder.ModelName()
}

func (g *EmbeddingGenerator) generate(ctx context.Context, text string, taskType string) ([]float32, error) {
	if g.embedder == nil {
		return nil, newProviderError("", KindInvalidCredentials, ErrUnavailable)
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, appErr.Invalid("text", "must not be empty")
	}
	input := g.truncate(ctx, trimmed)
	logger := logutil.GetLogger(ctx).With(zap.String("task_type", taskType), zap.String("model", g.embedder.ModelName()))
	for attempt := 1; ; attempt++ {
		vec, err := g.embedOnce(ctx, input, taskType)
		if err == nil {
			return vec, nil
		}
		kind := KindOf(err)
		policy := policyFor(kind)
		if policy.fatal || attempt >= policy.maxAttempts || ctx.Err() != nil {
			logger.Error("embedding failed",
				zap.Int("attempt", attempt),
				zap.String("kind", kind.String()),
				zap.Bool("fatal", policy.fatal),
				zap.Error(err),
			)
			return nil, err
		}
		wait := policy.backoff(attempt)
		logger.Warn("embedding failed, retrying",
			zap.Int("attempt", attempt),
			zap.String("kind", kind.String()),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := g.sleep(ctx, wait); err != nil {
			return nil, newProviderError("", KindTransient, err)
		}
	}
}

func (g *EmbeddingGenerator) embedOnce(ctx context.Context, text string, taskType string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	vec, err := g.embedder.Embed(callCtx, text, taskType)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, newProviderError("", KindTransient, fmt.Errorf("embedding call timed out after %s: %w", g.cfg.Timeout, err))
		}
		if !IsProviderError(err) {
			return nil, newProviderError("", KindTransient, err)
		}
		return nil, err
	}
	if len(vec) != g.cfg.Dimension {
		return nil, newProviderError("", KindMalformedResponse,
			fmt.Errorf("embedding has %d dimensions, want %d", len(vec), g.cfg.Dimension))
	}
	return vec, nil
}

// truncate cuts text to the character budget. The loss is accepted and only
// logged.
func (g *EmbeddingGenerator) truncate(ctx context.Context, text string) string {
	limit := g.MaxChars()
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	cut := 0
	for i := range text {
		if limit == 0 {
			cut = i
			break
		}
		limit--
	}
	logutil.GetLogger(ctx).Warn("embedding input truncated",
		zap.Int("original_chars", utf8.RuneCountInString(text)),
		zap.Int("max_chars", g.MaxChars()),
	)
	return text[:cut]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
