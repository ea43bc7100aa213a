package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xxxsen/contentvec/internal/model"
)

const (
	defaultOpenAIBaseURL     = "https://api.openai.com/v1"
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

type openAIConfig struct {
	APIKey      string `json:"api_key"`
	BaseURL     string `json:"base_url"`
	HTTPReferer string `json:"http_referer"`
	XTitle      string `json:"x_title"`
}

type openAIEmbedProvider struct {
	name   string
	apiKey string
	client *openai.Client
}

func (p *openAIEmbedProvider) Name() string {
	return p.name
}

func (p *openAIEmbedProvider) Embed(ctx context.Context, modelName string, text string, _ string) ([]float32, error) {
	if p.apiKey == "" {
		return nil, newProviderError(p.name, KindInvalidCredentials, ErrUnavailable)
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(modelName),
		Dimensions: requestDimensions(modelName),
	})
	if err != nil {
		return nil, classifyOpenAIError(p.name, err)
	}
	if len(resp.Data) == 0 {
		return nil, newProviderError(p.name, KindMalformedResponse, fmt.Errorf("response has no embeddings"))
	}
	return resp.Data[0].Embedding, nil
}

// requestDimensions asks the text-embedding-3 family for the stored width;
// older models reject the parameter.
func requestDimensions(modelName string) int {
	if strings.Contains(modelName, "text-embedding-3") {
		return model.EmbeddingDimension
	}
	return 0
}

func classifyOpenAIError(provider string, err error) error {
	if pe, ok := classifyContextErr(provider, err); ok {
		return pe
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code, _ := apiErr.Code.(string)
		switch {
		case code == "insufficient_quota" || apiErr.Type == "insufficient_quota":
			return newProviderError(provider, KindQuotaExceeded, err)
		case code == "invalid_api_key":
			return newProviderError(provider, KindInvalidCredentials, err)
		case code == "rate_limit_exceeded":
			return newProviderError(provider, KindRateLimited, err)
		}
		return newProviderError(provider, classifyStatus(apiErr.HTTPStatusCode), err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return newProviderError(provider, classifyStatus(reqErr.HTTPStatusCode), err)
	}
	return newProviderError(provider, KindTransient, err)
}

type headerTransport struct {
	next    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		clone.Header.Set(k, v)
	}
	return t.next.RoundTrip(clone)
}

func newOpenAICompatible(name, defaultBaseURL string, args interface{}) (IEmbedProvider, error) {
	cfg := &openAIConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	var transport http.RoundTripper = otelhttp.NewTransport(http.DefaultTransport)
	headers := map[string]string{}
	if v := strings.TrimSpace(cfg.HTTPReferer); v != "" {
		headers["HTTP-Referer"] = v
	}
	if v := strings.TrimSpace(cfg.XTitle); v != "" {
		headers["X-Title"] = v
	}
	if len(headers) > 0 {
		transport = &headerTransport{next: transport, headers: headers}
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	clientCfg.HTTPClient = &http.Client{Transport: transport}
	return &openAIEmbedProvider{
		name:   name,
		apiKey: apiKey,
		client: openai.NewClientWithConfig(clientCfg),
	}, nil
}

func createOpenAIEmbedFactory(args interface{}) (IEmbedProvider, error) {
	return newOpenAICompatible("openai", defaultOpenAIBaseURL, args)
}

func createOpenRouterEmbedFactory(args interface{}) (IEmbedProvider, error) {
	return newOpenAICompatible("openrouter", defaultOpenRouterBaseURL, args)
}

func init() {
	RegisterEmbed("openai", createOpenAIEmbedFactory)
	RegisterEmbed("openrouter", createOpenRouterEmbedFactory)
}
