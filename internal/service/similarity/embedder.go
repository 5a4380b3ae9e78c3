package similarity

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"google.golang.org/genai"

	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
)

const (
	DefaultOpenAIModel = "text-embedding-3-large"
	DefaultGeminiModel = "gemini-embedding-001"
)

// Embedder turns text into a vector.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float64, error)
}

// OpenAIEmbedder uses the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
}

// NewOpenAIEmbedder creates an embedder. An empty model selects text-embedding-3-large.
func NewOpenAIEmbedder(apiKey, baseURL, model string, opts ...option.RequestOption) *OpenAIEmbedder {
	all := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		all = append(all, option.WithBaseURL(baseURL))
	}
	all = append(all, opts...)
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIEmbedder{client: openai.NewClient(all...), model: model}
}

func (e *OpenAIEmbedder) Name() string { return "openai:" + e.model }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:          openai.EmbeddingModel(e.model),
		Input:          openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, embeddingError("openai", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, embeddingError("openai", errors.New("no embedding returned"))
	}
	return resp.Data[0].Embedding, nil
}

// GeminiEmbedder uses the genai embed endpoint.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
}

// NewGeminiEmbedder creates an embedder for semantic similarity.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, apperrors.Validation(apperrors.CodeMissingField, "gemini API key is required").Build()
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "similarity.NewGeminiEmbedder", "failed to create gemini client")
	}
	return &GeminiEmbedder{client: client, model: model}, nil
}

func (e *GeminiEmbedder) Name() string { return "gemini:" + e.model }

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	result, err := e.client.Models.EmbedContent(ctx,
		e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"},
	)
	if err != nil {
		return nil, embeddingError("gemini", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, embeddingError("gemini", errors.New("no embedding returned"))
	}

	values := result.Embeddings[0].Values
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out, nil
}

func embeddingError(provider string, err error) error {
	return apperrors.External(apperrors.CodeEmbeddingProviderError, "embedding request failed").
		WithOperation("similarity." + provider).
		WithDetails(err.Error()).
		WithCause(err).
		Build()
}
