package scoring

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"google.golang.org/genai"

	apperrors "github.com/dodge1218/prompt-intelligence/internal/errors"
)

// Provider completes a prompt in JSON mode and returns the raw text.
type Provider interface {
	Name() string
	CompleteJSON(ctx context.Context, model, prompt string) (string, error)
}

// OpenAIProvider calls the Chat Completions API.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a provider. baseURL is optional.
func NewOpenAIProvider(apiKey, baseURL string, opts ...option.RequestOption) *OpenAIProvider {
	all := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		all = append(all, option.WithBaseURL(baseURL))
	}
	all = append(all, opts...)
	return &OpenAIProvider{client: openai.NewClient(all...)}
}

func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

func (p *OpenAIProvider) CompleteJSON(ctx context.Context, model, prompt string) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return "", providerError(ProviderOpenAI, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", invalidResponse("empty completion", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// GeminiProvider calls the Gemini API through the genai SDK.
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a provider for the Gemini developer API.
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, apperrors.Validation(apperrors.CodeMissingField, "gemini API key is required").Build()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "scoring.NewGeminiProvider", "failed to create gemini client")
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Name() string { return ProviderGemini }

func (p *GeminiProvider) CompleteJSON(ctx context.Context, model, prompt string) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.7),
		TopK:             genai.Ptr[float32](40),
		TopP:             genai.Ptr[float32](0.95),
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", providerError(ProviderGemini, err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", invalidResponse("empty completion", nil)
	}
	return text, nil
}

func providerError(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Timeout(apperrors.CodeTimeout, "model request timed out").
			WithOperation("scoring." + provider).
			WithCause(err).
			Build()
	}
	return apperrors.External(apperrors.CodeLLMProviderError, "model request failed").
		WithOperation("scoring." + provider).
		WithDetails(err.Error()).
		WithCause(err).
		Build()
}
