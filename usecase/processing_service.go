package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lingtin/lingtin/server/domain"
	"github.com/lingtin/lingtin/server/domain/entities"
	"github.com/lingtin/lingtin/server/domain/repositories"
	"github.com/lingtin/lingtin/server/internal/inflight"
)

// ProcessRequest identifies the recording a pipeline run works on
type ProcessRequest struct {
	RecordingID  string `json:"recording_id"`
	AudioURL     string `json:"audio_url"`
	TableID      string `json:"table_id"`
	RestaurantID string `json:"restaurant_id"`
}

// Validate validates the request data
func (r ProcessRequest) Validate() error {
	if r.RecordingID == "" {
		return errors.New("recording_id is required")
	}
	if r.AudioURL == "" {
		return errors.New("audio_url is required")
	}
	return nil
}

// StatusPublisher announces recording status transitions to live subscribers
type StatusPublisher interface {
	PublishStatus(recordingID, restaurantID string, status entities.RecordingStatus, message string)
}

type nopPublisher struct{}

func (nopPublisher) PublishStatus(string, string, entities.RecordingStatus, string) {}

// ProcessingService orchestrates one pipeline run per recording
type ProcessingService struct {
	recordings  repositories.RecordingRepository
	vocabulary  repositories.VocabularyRepository
	transcriber Transcriber
	annotator   repositories.Annotator
	locks       *inflight.Set
	observer    Observer
	publisher   StatusPublisher
	logger      *zap.Logger
}

// NewProcessingService creates a new processing service
func NewProcessingService(
	recordings repositories.RecordingRepository,
	vocabulary repositories.VocabularyRepository,
	transcriber Transcriber,
	annotator repositories.Annotator,
	locks *inflight.Set,
	observer Observer,
	logger *zap.Logger,
) *ProcessingService {
	if locks == nil {
		locks = inflight.NewSet()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &ProcessingService{
		recordings:  recordings,
		vocabulary:  vocabulary,
		transcriber: transcriber,
		annotator:   annotator,
		locks:       locks,
		observer:    observer,
		publisher:   nopPublisher{},
		logger:      logger,
	}
}

// SetStatusPublisher routes status transitions to p
func (s *ProcessingService) SetStatusPublisher(p StatusPublisher) {
	if p == nil {
		p = nopPublisher{}
	}
	s.publisher = p
}

// Process runs transcription and annotation for one recording and persists the result.
// Duplicate requests fail with an error matching domain.ErrDuplicateRun. Once
// accepted, the run is detached from ctx cancellation.
func (s *ProcessingService) Process(ctx context.Context, req ProcessRequest) (*entities.ProcessingResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := req.RecordingID
	if !s.locks.TryAcquire(id) {
		s.logger.Warn("Recording already being processed", zap.String("recordingID", id))
		s.observer.RecordRunRejected("in_flight")
		return nil, domain.ErrAlreadyProcessing
	}
	defer s.locks.Release(id)

	ctx = context.WithoutCancel(ctx)

	status, err := s.recordings.GetStatus(ctx, id)
	if err != nil {
		s.logger.Warn("Failed to read recording status, continuing",
			zap.String("recordingID", id),
			zap.Error(err))
	}
	if status.Blocks() {
		s.logger.Warn("Recording not eligible for processing",
			zap.String("recordingID", id),
			zap.String("status", string(status)))
		s.observer.RecordRunRejected("state")
		return nil, &domain.AlreadyInStateError{Status: status}
	}

	s.observer.RecordRunStarted()
	defer s.observer.RecordRunFinished()

	// A panicking stage must not leave the recording stuck in processing
	defer func() {
		if r := recover(); r != nil {
			s.fail(ctx, req, "panic", fmt.Sprintf("processing panicked: %v", r))
			panic(r)
		}
	}()

	s.logger.Info("Processing recording",
		zap.String("recordingID", id),
		zap.String("restaurantID", req.RestaurantID),
		zap.String("tableID", req.TableID))
	runStart := time.Now()

	recording := entities.NewRecording(id, req.AudioURL, req.RestaurantID, req.TableID)
	if err := s.recordings.MarkProcessing(ctx, recording); err != nil {
		s.logger.Error("Failed to mark recording processing",
			zap.String("recordingID", id),
			zap.Error(err))
	}
	s.publisher.PublishStatus(id, req.RestaurantID, entities.RecordingStatusProcessing, "")

	start := time.Now()
	vocabulary, err := s.vocabulary.DishNames(ctx, req.RestaurantID)
	observeStage(s.logger, s.observer, id, stageVocabulary, start)
	if err != nil {
		s.logger.Warn("Failed to load dish names, annotating without vocabulary",
			zap.String("recordingID", id),
			zap.Error(err))
		vocabulary = nil
	}

	transcript, err := s.transcriber.Transcribe(ctx, id, req.AudioURL)
	if err != nil {
		s.fail(ctx, req, stageTranscribe, err.Error())
		return nil, err
	}
	s.logger.Info("Transcription ready",
		zap.String("recordingID", id),
		zap.String("reason", string(transcript.Reason)),
		zap.Int("length", len([]rune(transcript.Text))))

	start = time.Now()
	annotation := s.annotator.Annotate(ctx, transcript.Text, vocabulary)
	annotation.Normalize(transcript.Text)
	observeStage(s.logger, s.observer, id, stageAnnotate, start)

	result := &entities.ProcessingResult{
		RecordingID: id,
		Transcript:  transcript.Text,
		Annotation:  annotation,
	}

	start = time.Now()
	if err := s.recordings.SaveResult(ctx, id, result); err != nil {
		s.logger.Error("Failed to save processing result",
			zap.String("recordingID", id),
			zap.Error(err))
	}
	observeStage(s.logger, s.observer, id, stagePersist, start)
	s.publisher.PublishStatus(id, req.RestaurantID, entities.RecordingStatusProcessed, "")

	s.observer.RecordRunCompleted()
	s.logger.Info("Recording processed",
		zap.String("recordingID", id),
		zap.Duration("elapsed", time.Since(runStart)))
	return result, nil
}

// Status returns the persisted recording
func (s *ProcessingService) Status(ctx context.Context, id string) (*entities.Recording, error) {
	return s.recordings.GetByID(ctx, id)
}

// Pending lists recordings that are waiting for a run or failed their last one
func (s *ProcessingService) Pending(ctx context.Context, limit int) ([]*entities.Recording, error) {
	return s.recordings.ListPending(ctx, limit)
}

// Processing reports whether id is held by a run in this process
func (s *ProcessingService) Processing(id string) bool {
	return s.locks.Held(id)
}

func (s *ProcessingService) fail(ctx context.Context, req ProcessRequest, stage, message string) {
	id := req.RecordingID
	s.observer.RecordRunFailed(stage)
	s.logger.Error("Processing failed",
		zap.String("recordingID", id),
		zap.String("stage", stage),
		zap.String("message", message))
	if err := s.recordings.MarkFailed(ctx, id, message); err != nil {
		s.logger.Error("Failed to mark recording failed",
			zap.String("recordingID", id),
			zap.Error(err))
	}
	s.publisher.PublishStatus(id, req.RestaurantID, entities.RecordingStatusError, message)
}
