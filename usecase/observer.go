package usecase

import (
	"time"

	"go.uber.org/zap"
)

// Observer receives pipeline measurements; *metrics.Metrics implements it
type Observer interface {
	RecordRunStarted()
	RecordRunFinished()
	RecordRunCompleted()
	RecordRunFailed(stage string)
	RecordRunRejected(reason string)
	ObserveStage(stage string, seconds float64)
	RecordTranscription(reason string)
}

// NopObserver discards every measurement
type NopObserver struct{}

func (NopObserver) RecordRunStarted() {}
func (NopObserver) RecordRunFinished() {}
func (NopObserver) RecordRunCompleted() {}
func (NopObserver) RecordRunFailed(string) {}
func (NopObserver) RecordRunRejected(string) {}
func (NopObserver) ObserveStage(string, float64) {}
func (NopObserver) RecordTranscription(string) {}

const (
	stageFetch      = "fetch"
	stageNormalize  = "normalize"
	stageTranscribe = "transcribe"
	stageVocabulary = "vocabulary"
	stageAnnotate   = "annotate"
	stagePersist    = "persist"
)

// observeStage logs and records the elapsed time of one stage
func observeStage(logger *zap.Logger, observer Observer, recordingID, stage string, start time.Time) {
	elapsed := time.Since(start)
	logger.Info("Stage finished",
		zap.String("recordingID", recordingID),
		zap.String("stage", stage),
		zap.Duration("elapsed", elapsed))
	observer.ObserveStage(stage, elapsed.Seconds())
}
