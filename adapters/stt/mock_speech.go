package stt

import (
	"context"
	"hash/fnv"

	"go.uber.org/zap"

	"github.com/lingtin/lingtin/server/domain/repositories"
)

// MockTranscripts are returned when no speech service is available.
// The first one contains the homophone errors the annotator is expected to correct.
var MockTranscripts = []string{
	"今天的清蒸路鱼很新鲜，油门大虾也不错，就是等的时间有点长",
	"招牌红烧肉味道很好，肥而不腻，下次还会来",
	"宫保鸡丁有点咸了，不过服务态度很好",
	"蒜蓉粉丝虾很入味，鲜嫩可口，五星好评",
}

// MockTranscriptFor picks a sample transcript deterministically from key
func MockTranscriptFor(key string) string {
	h := fnv.New32a()
	h.Write([]byte(key))
	return MockTranscripts[int(h.Sum32()%uint32(len(MockTranscripts)))]
}

// MockSpeechToText is a placeholder implementation for speech recognition
type MockSpeechToText struct {
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*MockSpeechToText)(nil)

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{
		logger: logger,
	}
}

// TranscribePCM returns a sample transcript chosen by the audio length
func (s *MockSpeechToText) TranscribePCM(ctx context.Context, pcm []byte) (repositories.Transcript, error) {
	s.logger.Info("Processing mock transcription", zap.Int("size", len(pcm)))

	return repositories.Transcript{
		Text:   MockTranscripts[len(pcm)%len(MockTranscripts)],
		Reason: repositories.TerminationMock,
	}, nil
}
