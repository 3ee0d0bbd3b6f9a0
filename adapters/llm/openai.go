package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/lingtin/lingtin/server/domain"
	"github.com/lingtin/lingtin/server/domain/entities"
	"github.com/lingtin/lingtin/server/domain/repositories"
)

const (
	defaultBaseURL        = "https://www.packyapi.com/v1"
	defaultModel          = "gemini-3-flash-preview"
	defaultTemperature    = 0.3
	defaultMaxTokens      = 2000
	defaultTimeoutSeconds = 60
)

// OpenAIConfig holds configuration for an OpenAI-compatible chat completion endpoint
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Temperature    float32
	MaxTokens      int
	TimeoutSeconds int
}

// ValidateOpenAIConfig validates the OpenAIConfig
func ValidateOpenAIConfig(config OpenAIConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("LLM API key is required: %w", domain.ErrCredentialsMissing)
	}

	// Validate temperature is in the valid range
	if config.Temperature < 0 || config.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", config.Temperature)
	}

	if config.MaxTokens < 0 {
		return fmt.Errorf("max tokens must be positive, got %d", config.MaxTokens)
	}

	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}

	return nil
}

// NewOpenAIConfigFromEnv creates a new OpenAIConfig from environment variables.
// GEMINI_API_KEY is accepted for deployments that proxy Gemini through the same gateway.
func NewOpenAIConfigFromEnv() OpenAIConfig {
	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	return OpenAIConfig{
		APIKey:  apiKey,
		BaseURL: os.Getenv("LLM_BASE_URL"),
		Model:   os.Getenv("LLM_MODEL"),
	}
}

// OpenAIAnnotator implements Annotator using an OpenAI-compatible chat completion API
type OpenAIAnnotator struct {
	client      *openai.Client
	logger      *zap.Logger
	observer    FallbackObserver
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

var _ repositories.Annotator = (*OpenAIAnnotator)(nil)

// NewOpenAIAnnotator creates a new annotator; observer may be nil
func NewOpenAIAnnotator(config OpenAIConfig, logger *zap.Logger, observer FallbackObserver) (*OpenAIAnnotator, error) {
	if err := ValidateOpenAIConfig(config); err != nil {
		return nil, err
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
		logger.Info("Using default LLM base URL", zap.String("baseURL", baseURL))
	}

	model := config.Model
	if model == "" {
		model = defaultModel
		logger.Info("Using default model", zap.String("model", model))
	}

	temperature := config.Temperature
	if temperature == 0 {
		temperature = float32(defaultTemperature)
		logger.Info("Using default temperature", zap.Float32("temperature", temperature))
	}

	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
		logger.Info("Using default maxTokens", zap.Int("maxTokens", maxTokens))
	}

	timeoutSeconds := config.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = defaultTimeoutSeconds
		logger.Info("Using default timeoutSeconds", zap.Int("timeoutSeconds", timeoutSeconds))
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = strings.TrimRight(baseURL, "/")

	return &OpenAIAnnotator{
		client:      openai.NewClientWithConfig(clientConfig),
		logger:      logger,
		observer:    observer,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// Annotate implements repositories.Annotator. It never fails: request errors give
// MockAnnotation and unparsable replies give FallbackAnnotation.
func (a *OpenAIAnnotator) Annotate(ctx context.Context, transcript string, vocabulary []string) entities.Annotation {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: BuildSystemPrompt(vocabulary),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: BuildUserMessage(transcript),
			},
		},
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		a.logger.Error("LLM request failed, using mock annotation", zap.Error(err))
		a.fallback(FallbackReasonRequest)
		return MockAnnotation()
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		a.logger.Warn("Empty response from LLM, using mock annotation")
		a.fallback(FallbackReasonEmpty)
		return MockAnnotation()
	}

	content := resp.Choices[0].Message.Content
	a.logger.Debug("LLM raw response",
		zap.Int("length", len(content)),
		zap.String("preview", preview(content, 300)))

	annotation, err := ParseAnnotation(content, transcript)
	if err != nil {
		a.logger.Warn("Failed to parse LLM response, echoing transcript",
			zap.Error(err),
			zap.String("preview", preview(content, 500)))
		a.fallback(FallbackReasonParse)
		return FallbackAnnotation(transcript)
	}

	a.logger.Info("Transcript annotated",
		zap.Float64("sentimentScore", annotation.SentimentScore),
		zap.Int("keywords", len(annotation.Keywords)))
	return annotation
}

func (a *OpenAIAnnotator) fallback(reason string) {
	if a.observer != nil {
		a.observer.ObserveAnnotationFallback(reason)
	}
}

// preview returns at most n runes of s
func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
