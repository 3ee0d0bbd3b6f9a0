package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lingtin/lingtin/server/adapters/audio"
	"github.com/lingtin/lingtin/server/adapters/stt"
	"github.com/lingtin/lingtin/server/domain"
	"github.com/lingtin/lingtin/server/domain/repositories"
)

// sniffLength is how many leading bytes are inspected for magic numbers
const sniffLength = 12

// Transcriber turns a recording into text
type Transcriber interface {
	Transcribe(ctx context.Context, recordingID, audioURL string) (repositories.Transcript, error)
}

// TranscriptionService downloads, normalizes and transcribes one recording
type TranscriptionService struct {
	fetcher      repositories.AudioFetcher
	transcoder   repositories.Transcoder
	speechToText repositories.SpeechToText
	observer     Observer
	logger       *zap.Logger
}

var _ Transcriber = (*TranscriptionService)(nil)

// NewTranscriptionService creates a new transcription service.
// A nil speechToText means no credentials are configured and every recording
// gets a deterministic mock transcript.
func NewTranscriptionService(
	fetcher repositories.AudioFetcher,
	transcoder repositories.Transcoder,
	speechToText repositories.SpeechToText,
	observer Observer,
	logger *zap.Logger,
) *TranscriptionService {
	if observer == nil {
		observer = NopObserver{}
	}
	return &TranscriptionService{
		fetcher:      fetcher,
		transcoder:   transcoder,
		speechToText: speechToText,
		observer:     observer,
		logger:       logger,
	}
}

// Transcribe implements Transcriber. Only fatal errors are returned; every other
// failure degrades to the mock transcript.
func (s *TranscriptionService) Transcribe(ctx context.Context, recordingID, audioURL string) (repositories.Transcript, error) {
	if s.speechToText == nil {
		s.logger.Warn("Speech credentials not configured, using mock transcript",
			zap.String("recordingID", recordingID))
		return s.mock(recordingID), nil
	}

	start := time.Now()
	data, err := s.fetcher.Fetch(ctx, audioURL)
	observeStage(s.logger, s.observer, recordingID, stageFetch, start)
	if err != nil {
		s.logger.Error("Audio download failed, using mock transcript",
			zap.String("recordingID", recordingID),
			zap.Error(err))
		return s.mock(recordingID), nil
	}

	head := data
	if len(head) > sniffLength {
		head = head[:sniffLength]
	}
	format := audio.SniffFormat(audioURL, head)
	s.logger.Info("Audio downloaded",
		zap.String("recordingID", recordingID),
		zap.Int("size", len(data)),
		zap.String("format", string(format)))

	start = time.Now()
	pcm, err := s.transcoder.Normalize(ctx, data, string(format))
	observeStage(s.logger, s.observer, recordingID, stageNormalize, start)
	if err != nil {
		return repositories.Transcript{}, fmt.Errorf("normalize %s audio: %w", format, err)
	}

	start = time.Now()
	transcript, err := s.speechToText.TranscribePCM(ctx, pcm)
	observeStage(s.logger, s.observer, recordingID, stageTranscribe, start)
	if err != nil {
		if domain.IsFatal(err) {
			return repositories.Transcript{}, fmt.Errorf("transcribe: %w", err)
		}
		s.logger.Error("Transcription failed, using mock transcript",
			zap.String("recordingID", recordingID),
			zap.Error(err))
		return s.mock(recordingID), nil
	}

	if transcript.Partial() {
		s.logger.Warn("Using partial transcript",
			zap.String("recordingID", recordingID),
			zap.String("reason", string(transcript.Reason)))
	}
	s.observer.RecordTranscription(string(transcript.Reason))
	return transcript, nil
}

func (s *TranscriptionService) mock(recordingID string) repositories.Transcript {
	s.observer.RecordTranscription(string(repositories.TerminationMock))
	return repositories.Transcript{
		Text:   stt.MockTranscriptFor(recordingID),
		Reason: repositories.TerminationMock,
	}
}
