package llm

import (
	"context"

	"go.uber.org/zap"

	"github.com/lingtin/lingtin/server/domain/entities"
	"github.com/lingtin/lingtin/server/domain/repositories"
)

// MockAnnotation is the deterministic result used when the model is unavailable
func MockAnnotation() entities.Annotation {
	return entities.Annotation{
		CorrectedTranscript: "今天的清蒸鲈鱼很新鲜，油焖大虾也不错，就是等的时间有点长",
		Summary:             "清蒸鲈鱼新鲜，油焖大虾好，上菜稍慢",
		SentimentScore:      0.72,
		Keywords:            []string{"清蒸鲈鱼", "新鲜", "油焖大虾", "不错", "等待时间长"},
		ManagerQuestions:    []string{"您好，今天的菜吃得还习惯吗？"},
		CustomerAnswers:     []string{"清蒸鲈鱼很新鲜，油焖大虾也不错，就是等的时间有点长"},
	}
}

// FallbackObserver is notified whenever an annotator degrades to a fallback result
type FallbackObserver interface {
	ObserveAnnotationFallback(reason string)
}

const (
	FallbackReasonNoCredentials = "no_credentials"
	FallbackReasonRequest       = "request"
	FallbackReasonEmpty         = "empty"
	FallbackReasonParse         = "parse"
)

// MockAnnotator returns MockAnnotation for every transcript
type MockAnnotator struct {
	logger   *zap.Logger
	observer FallbackObserver
}

var _ repositories.Annotator = (*MockAnnotator)(nil)

// NewMockAnnotator creates a new mock annotator
func NewMockAnnotator(logger *zap.Logger, observer FallbackObserver) *MockAnnotator {
	return &MockAnnotator{logger: logger, observer: observer}
}

// Annotate implements repositories.Annotator
func (m *MockAnnotator) Annotate(ctx context.Context, transcript string, vocabulary []string) entities.Annotation {
	m.logger.Warn("LLM credentials not configured, using mock annotation",
		zap.Int("transcriptLength", len(transcript)))
	if m.observer != nil {
		m.observer.ObserveAnnotationFallback(FallbackReasonNoCredentials)
	}
	return MockAnnotation()
}
