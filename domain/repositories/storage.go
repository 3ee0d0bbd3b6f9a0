package repositories

import (
	"context"
	"time"

	"github.com/lingtin/lingtin/server/domain/entities"
)

// RecordingRepository persists recording status and pipeline results
type RecordingRepository interface {
	// Create registers a freshly uploaded recording. It is the seam for the upload
	// service; the pipeline itself never creates recordings, it upserts them.
	Create(ctx context.Context, recording *entities.Recording) error
	GetByID(ctx context.Context, id string) (*entities.Recording, error)
	// GetStatus returns the persisted status, RecordingStatusUnset for unknown ids
	GetStatus(ctx context.Context, id string) (entities.RecordingStatus, error)
	// MarkProcessing sets the processing status and clears any previous error.
	// Unknown recordings are created from recording; known ones keep their stored
	// audio url, restaurant and table unless those are empty.
	MarkProcessing(ctx context.Context, recording *entities.Recording) error
	// SaveResult stores the transcript and annotation and marks the recording processed
	SaveResult(ctx context.Context, id string, result *entities.ProcessingResult) error
	// MarkFailed sets the error status together with a human-readable message
	MarkFailed(ctx context.Context, id string, message string) error
	// ListPending returns recordings that are unset or in error, oldest first
	ListPending(ctx context.Context, limit int) ([]*entities.Recording, error)
	// ExpireStale marks recordings stuck in processing since before the cutoff as failed
	ExpireStale(ctx context.Context, cutoff time.Time, message string) (int, error)
}

// VocabularyRepository supplies the dish names used to correct transcripts
type VocabularyRepository interface {
	DishNames(ctx context.Context, restaurantID string) ([]string, error)
}
