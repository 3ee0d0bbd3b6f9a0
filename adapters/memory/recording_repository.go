package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/lingtin/lingtin/server/domain"
	"github.com/lingtin/lingtin/server/domain/entities"
	"github.com/lingtin/lingtin/server/domain/repositories"
)

// DemoDishNames seeds the vocabulary when no database is configured
var DemoDishNames = []string{
	"清蒸鲈鱼",
	"油焖大虾",
	"招牌红烧肉",
	"宫保鸡丁",
	"蒜蓉粉丝虾",
	"麻婆豆腐",
	"酸菜鱼",
	"糖醋排骨",
}

// RecordingRepository is an in-memory implementation of RecordingRepository and
// VocabularyRepository. It backs mock mode and tests.
type RecordingRepository struct {
	mu         sync.RWMutex
	recordings map[string]*entities.Recording // id -> recording
	dishes     map[string][]string            // restaurant id -> dish names
	fallback   []string                       // dish names for unknown restaurants
}

var (
	_ repositories.RecordingRepository  = (*RecordingRepository)(nil)
	_ repositories.VocabularyRepository = (*RecordingRepository)(nil)
)

// NewRecordingRepository creates an empty repository whose vocabulary falls back to dishes
func NewRecordingRepository(dishes []string) *RecordingRepository {
	return &RecordingRepository{
		recordings: make(map[string]*entities.Recording),
		dishes:     make(map[string][]string),
		fallback:   append([]string(nil), dishes...),
	}
}

// SetDishNames replaces the vocabulary of one restaurant
func (m *RecordingRepository) SetDishNames(restaurantID string, dishes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dishes[restaurantID] = append([]string(nil), dishes...)
}

// Create implements RecordingRepository interface
func (m *RecordingRepository) Create(ctx context.Context, recording *entities.Recording) error {
	if recording == nil {
		return errors.New("recording cannot be nil")
	}
	if err := recording.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.recordings[recording.ID]; exists {
		return errors.New("recording with this id already exists")
	}

	now := time.Now()
	if recording.CreatedAt.IsZero() {
		recording.CreatedAt = now
	}
	recording.UpdatedAt = now

	m.recordings[recording.ID] = copyRecording(recording)
	return nil
}

// GetByID implements RecordingRepository interface
func (m *RecordingRepository) GetByID(ctx context.Context, id string) (*entities.Recording, error) {
	if id == "" {
		return nil, errors.New("recording ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	recording, exists := m.recordings[id]
	if !exists {
		return nil, domain.ErrRecordingNotFound
	}

	// Return a copy to prevent external modifications
	return copyRecording(recording), nil
}

// GetStatus implements RecordingRepository interface
func (m *RecordingRepository) GetStatus(ctx context.Context, id string) (entities.RecordingStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recording, exists := m.recordings[id]
	if !exists {
		return entities.RecordingStatusUnset, nil
	}
	return recording.Status, nil
}

// MarkProcessing implements RecordingRepository interface. Unknown ids are created
// so that recordings uploaded elsewhere can still be tracked and re-run.
func (m *RecordingRepository) MarkProcessing(ctx context.Context, recording *entities.Recording) error {
	if recording == nil || recording.ID == "" {
		return errors.New("recording ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.getOrInit(recording.ID)
	if stored.AudioURL == "" {
		stored.AudioURL = recording.AudioURL
	}
	if stored.RestaurantID == "" {
		stored.RestaurantID = recording.RestaurantID
	}
	if stored.TableID == "" {
		stored.TableID = recording.TableID
	}
	stored.Status = entities.RecordingStatusProcessing
	stored.ErrorMessage = ""
	stored.UpdatedAt = time.Now()
	return nil
}

// SaveResult implements RecordingRepository interface
func (m *RecordingRepository) SaveResult(ctx context.Context, id string, result *entities.ProcessingResult) error {
	if result == nil {
		return errors.New("result cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	annotation := result.Annotation
	annotation.Keywords = append([]string{}, annotation.Keywords...)
	annotation.ManagerQuestions = append([]string{}, annotation.ManagerQuestions...)
	annotation.CustomerAnswers = append([]string{}, annotation.CustomerAnswers...)

	recording := m.getOrInit(id)
	recording.RawTranscript = result.Transcript
	recording.Annotation = &annotation
	recording.Status = entities.RecordingStatusProcessed
	recording.ErrorMessage = ""
	recording.ProcessedAt = &now
	recording.UpdatedAt = now
	return nil
}

// MarkFailed implements RecordingRepository interface
func (m *RecordingRepository) MarkFailed(ctx context.Context, id string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	recording := m.getOrInit(id)
	recording.Status = entities.RecordingStatusError
	recording.ErrorMessage = message
	recording.UpdatedAt = time.Now()
	return nil
}

// ListPending implements RecordingRepository interface
func (m *RecordingRepository) ListPending(ctx context.Context, limit int) ([]*entities.Recording, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pending := make([]*entities.Recording, 0)
	for _, recording := range m.recordings {
		if recording.Status == entities.RecordingStatusUnset || recording.Status == entities.RecordingStatusError {
			pending = append(pending, copyRecording(recording))
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// ExpireStale implements RecordingRepository interface
func (m *RecordingRepository) ExpireStale(ctx context.Context, cutoff time.Time, message string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	expired := 0
	for _, recording := range m.recordings {
		if recording.Status == entities.RecordingStatusProcessing && recording.UpdatedAt.Before(cutoff) {
			recording.Status = entities.RecordingStatusError
			recording.ErrorMessage = message
			recording.UpdatedAt = now
			expired++
		}
	}
	return expired, nil
}

// DishNames implements VocabularyRepository interface
func (m *RecordingRepository) DishNames(ctx context.Context, restaurantID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if dishes, ok := m.dishes[restaurantID]; ok {
		return append([]string(nil), dishes...), nil
	}
	return append([]string(nil), m.fallback...), nil
}

// getOrInit must be called with the write lock held
func (m *RecordingRepository) getOrInit(id string) *entities.Recording {
	recording, exists := m.recordings[id]
	if !exists {
		now := time.Now()
		recording = &entities.Recording{ID: id, CreatedAt: now, UpdatedAt: now}
		m.recordings[id] = recording
	}
	return recording
}

func copyRecording(r *entities.Recording) *entities.Recording {
	c := *r
	if r.Annotation != nil {
		annotation := *r.Annotation
		c.Annotation = &annotation
	}
	if r.ProcessedAt != nil {
		processedAt := *r.ProcessedAt
		c.ProcessedAt = &processedAt
	}
	return &c
}
