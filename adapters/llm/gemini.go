package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/lingtin/lingtin/server/domain"
	"github.com/lingtin/lingtin/server/domain/entities"
	"github.com/lingtin/lingtin/server/domain/repositories"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiConfig holds configuration for the native Gemini annotator
type GeminiConfig struct {
	APIKey          string
	BaseURL         string // overrides the Gemini API endpoint, e.g. for a proxy
	Model           string
	Temperature     float32
	MaxOutputTokens int
	TimeoutSeconds  int
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Google AI API key is required: %w", domain.ErrCredentialsMissing)
	}

	// Validate temperature is in the valid range
	if config.Temperature < 0 || config.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", config.Temperature)
	}

	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}

	return nil
}

// NewGeminiConfigFromEnv creates a new GeminiConfig from environment variables
func NewGeminiConfigFromEnv() GeminiConfig {
	return GeminiConfig{
		APIKey: os.Getenv("GEMINI_API_KEY"),
		Model:  os.Getenv("GEMINI_MODEL"),
	}
}

// GeminiAnnotator implements Annotator using Google's Gemini API
type GeminiAnnotator struct {
	client          *genai.Client
	logger          *zap.Logger
	observer        FallbackObserver
	model           string
	temperature     float32
	maxOutputTokens int
	timeout         time.Duration
}

var _ repositories.Annotator = (*GeminiAnnotator)(nil)

// NewGeminiAnnotator creates a new Gemini annotator; observer may be nil
func NewGeminiAnnotator(ctx context.Context, config GeminiConfig, logger *zap.Logger, observer FallbackObserver) (*GeminiAnnotator, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      config.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: config.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := config.Model
	if model == "" {
		model = defaultGeminiModel
		logger.Info("Using default model", zap.String("model", model))
	}

	temperature := config.Temperature
	if temperature == 0 {
		temperature = float32(defaultTemperature)
		logger.Info("Using default temperature", zap.Float32("temperature", temperature))
	}

	maxOutputTokens := config.MaxOutputTokens
	if maxOutputTokens == 0 {
		maxOutputTokens = defaultMaxTokens
		logger.Info("Using default maxOutputTokens", zap.Int("maxOutputTokens", maxOutputTokens))
	}

	timeoutSeconds := config.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = defaultTimeoutSeconds
		logger.Info("Using default timeoutSeconds", zap.Int("timeoutSeconds", timeoutSeconds))
	}

	return &GeminiAnnotator{
		client:          client,
		logger:          logger,
		observer:        observer,
		model:           model,
		temperature:     temperature,
		maxOutputTokens: maxOutputTokens,
		timeout:         time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// Annotate implements repositories.Annotator
func (g *GeminiAnnotator) Annotate(ctx context.Context, transcript string, vocabulary []string) entities.Annotation {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(BuildSystemPrompt(vocabulary), genai.RoleUser),
		Temperature:       genai.Ptr(g.temperature),
		MaxOutputTokens:   int32(g.maxOutputTokens),
		ResponseMIMEType:  "application/json",
	}
	contents := []*genai.Content{
		genai.NewContentFromText(BuildUserMessage(transcript), genai.RoleUser),
	}

	response, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		g.logger.Error("Failed to generate content, using mock annotation", zap.Error(err))
		g.fallback(FallbackReasonRequest)
		return MockAnnotation()
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		g.logger.Warn("No content generated, using mock annotation")
		g.fallback(FallbackReasonEmpty)
		return MockAnnotation()
	}

	// Extract text from the response
	var sb strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		g.logger.Warn("Empty response, using mock annotation")
		g.fallback(FallbackReasonEmpty)
		return MockAnnotation()
	}

	annotation, err := ParseAnnotation(sb.String(), transcript)
	if err != nil {
		g.logger.Warn("Failed to parse Gemini response, echoing transcript", zap.Error(err))
		g.fallback(FallbackReasonParse)
		return FallbackAnnotation(transcript)
	}
	return annotation
}

func (g *GeminiAnnotator) fallback(reason string) {
	if g.observer != nil {
		g.observer.ObserveAnnotationFallback(reason)
	}
}
