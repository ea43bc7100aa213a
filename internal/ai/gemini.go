package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/xxxsen/contentvec/internal/model"
)

type geminiConfig struct {
	APIKey string `json:"api_key"`
}

type geminiEmbedProvider struct {
	apiKey string
	client *genai.Client
}

func (p *geminiEmbedProvider) Name() string {
	return "gemini"
}

func (p *geminiEmbedProvider) Embed(ctx context.Context, modelName string, text string, taskType string) ([]float32, error) {
	if p.apiKey == "" || p.client == nil {
		return nil, newProviderError(p.Name(), KindInvalidCredentials, ErrUnavailable)
	}
	dim := int32(model.EmbeddingDimension)
	config := &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	}
	if taskType != "" {
		config.TaskType = taskType
	}
	resp, err := p.client.Models.EmbedContent(
		ctx,
		modelName,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}},
		config,
	)
	if err != nil {
		return nil, classifyGeminiError(p.Name(), err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, newProviderError(p.Name(), KindMalformedResponse, fmt.Errorf("no embedding values returned"))
	}
	return resp.Embeddings[0].Values, nil
}

func classifyGeminiError(provider string, err error) error {
	if pe, ok := classifyContextErr(provider, err); ok {
		return pe
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return newProviderError(provider, classifyGeminiStatus(apiErr.Code, apiErr.Status), err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return newProviderError(provider, classifyGeminiStatus(apiErrPtr.Code, apiErrPtr.Status), err)
	}
	return newProviderError(provider, KindTransient, err)
}

func classifyGeminiStatus(code int, status string) ErrorKind {
	switch status {
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		return KindInvalidCredentials
	case "RESOURCE_EXHAUSTED":
		return KindRateLimited
	case "UNAVAILABLE", "DEADLINE_EXCEEDED", "INTERNAL":
		return KindTransient
	}
	return classifyStatus(code)
}

func createGeminiEmbedFactory(args interface{}) (IEmbedProvider, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	provider := &geminiEmbedProvider{
		apiKey: strings.TrimSpace(cfg.APIKey),
	}
	if provider.apiKey == "" {
		return provider, nil
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  provider.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	provider.client = client
	return provider, nil
}

func init() {
	RegisterEmbed("gemini", createGeminiEmbedFactory)
}
