package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/lingtin/lingtin/server/domain"
	"github.com/lingtin/lingtin/server/domain/entities"
	"github.com/lingtin/lingtin/server/domain/repositories"
)

const (
	recordingsCollection = "visit_records"
	dishesCollection     = "dish_names"
)

// RecordingRepository implements RecordingRepository using MongoDB
type RecordingRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

var _ repositories.RecordingRepository = (*RecordingRepository)(nil)

// NewRecordingRepository creates a new MongoDB recording repository
func NewRecordingRepository(db *mongo.Database, logger *zap.Logger) *RecordingRepository {
	collection := db.Collection(recordingsCollection)

	// Create indexes for the pending listing and the stale sweep
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		statusCreatedIndex := mongo.IndexModel{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "created_at", Value: 1},
			},
		}
		statusUpdatedIndex := mongo.IndexModel{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "updated_at", Value: 1},
			},
		}

		if _, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{statusCreatedIndex, statusUpdatedIndex}); err != nil {
			logger.Error("Failed to create recording indexes", zap.Error(err))
		} else {
			logger.Info("Recording indexes created successfully")
		}
	}()

	return &RecordingRepository{
		collection: collection,
		logger:     logger,
	}
}

// Create implements repositories.RecordingRepository
func (r *RecordingRepository) Create(ctx context.Context, recording *entities.Recording) error {
	if recording == nil {
		return errors.New("recording cannot be nil")
	}
	if err := recording.Validate(); err != nil {
		return err
	}

	now := time.Now()
	if recording.CreatedAt.IsZero() {
		recording.CreatedAt = now
	}
	recording.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, recording); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.New("recording with this id already exists")
		}
		return fmt.Errorf("failed to create recording: %w", err)
	}
	return nil
}

// GetByID implements repositories.RecordingRepository
func (r *RecordingRepository) GetByID(ctx context.Context, id string) (*entities.Recording, error) {
	if id == "" {
		return nil, errors.New("recording ID cannot be empty")
	}

	var recording entities.Recording
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&recording)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrRecordingNotFound
		}
		return nil, fmt.Errorf("failed to get recording %s: %w", id, err)
	}
	return &recording, nil
}

// GetStatus implements repositories.RecordingRepository
func (r *RecordingRepository) GetStatus(ctx context.Context, id string) (entities.RecordingStatus, error) {
	var doc struct {
		Status entities.RecordingStatus `bson:"status"`
	}
	opts := options.FindOne().SetProjection(bson.M{"status": 1})
	err := r.collection.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entities.RecordingStatusUnset, nil
		}
		return entities.RecordingStatusUnset, fmt.Errorf("failed to get status of recording %s: %w", id, err)
	}
	return doc.Status, nil
}

// MarkProcessing implements repositories.RecordingRepository. The pipeline
// update keeps stored request fields and only fills the empty ones.
func (r *RecordingRepository) MarkProcessing(ctx context.Context, recording *entities.Recording) error {
	if recording == nil || recording.ID == "" {
		return errors.New("recording ID cannot be empty")
	}

	now := time.Now()
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"status":        string(entities.RecordingStatusProcessing),
			"audio_url":     fillEmpty("$audio_url", recording.AudioURL),
			"restaurant_id": fillEmpty("$restaurant_id", recording.RestaurantID),
			"table_id":      fillEmpty("$table_id", recording.TableID),
			"created_at":    bson.M{"$ifNull": bson.A{"$created_at", now}},
			"updated_at":    now,
		}}},
		{{Key: "$unset", Value: "error_message"}},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, bson.M{"_id": recording.ID}, update, opts); err != nil {
		return fmt.Errorf("failed to mark recording %s processing: %w", recording.ID, err)
	}
	return nil
}

// SaveResult implements repositories.RecordingRepository
func (r *RecordingRepository) SaveResult(ctx context.Context, id string, result *entities.ProcessingResult) error {
	if result == nil {
		return errors.New("result cannot be nil")
	}

	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"raw_transcript": result.Transcript,
			"annotation":     result.Annotation,
			"status":         entities.RecordingStatusProcessed,
			"processed_at":   now,
			"updated_at":     now,
		},
		"$unset": bson.M{"error_message": ""},
	}
	return r.upsert(ctx, id, update)
}

// MarkFailed implements repositories.RecordingRepository
func (r *RecordingRepository) MarkFailed(ctx context.Context, id string, message string) error {
	update := bson.M{
		"$set": bson.M{
			"status":        entities.RecordingStatusError,
			"error_message": message,
			"updated_at":    time.Now(),
		},
	}
	return r.upsert(ctx, id, update)
}

// ListPending implements repositories.RecordingRepository
func (r *RecordingRepository) ListPending(ctx context.Context, limit int) ([]*entities.Recording, error) {
	filter := bson.M{
		"status": bson.M{"$in": bson.A{entities.RecordingStatusUnset, entities.RecordingStatusError}},
	}
	opts := options.Find().SetSort(bson.M{"created_at": 1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending recordings: %w", err)
	}
	defer cursor.Close(ctx)

	recordings := make([]*entities.Recording, 0)
	if err := cursor.All(ctx, &recordings); err != nil {
		return nil, fmt.Errorf("failed to decode pending recordings: %w", err)
	}
	return recordings, nil
}

// ExpireStale implements repositories.RecordingRepository
func (r *RecordingRepository) ExpireStale(ctx context.Context, cutoff time.Time, message string) (int, error) {
	filter := bson.M{
		"status":     entities.RecordingStatusProcessing,
		"updated_at": bson.M{"$lt": cutoff},
	}
	update := bson.M{
		"$set": bson.M{
			"status":        entities.RecordingStatusError,
			"error_message": message,
			"updated_at":    time.Now(),
		},
	}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		r.logger.Error("Failed to expire stale recordings", zap.Error(err))
		return 0, err
	}

	if result.ModifiedCount > 0 {
		r.logger.Info("Expired stale recordings", zap.Int64("count", result.ModifiedCount))
	}
	return int(result.ModifiedCount), nil
}

// upsert applies update to the recording, creating it when it was uploaded elsewhere
func (r *RecordingRepository) upsert(ctx context.Context, id string, update bson.M) error {
	if id == "" {
		return errors.New("recording ID cannot be empty")
	}
	update["$setOnInsert"] = bson.M{"created_at": time.Now()}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update, opts); err != nil {
		return fmt.Errorf("failed to update recording %s: %w", id, err)
	}
	return nil
}

// fillEmpty evaluates to value when field is missing or empty
func fillEmpty(field, value string) bson.M {
	return bson.M{"$cond": bson.A{
		bson.M{"$eq": bson.A{bson.M{"$ifNull": bson.A{field, ""}}, ""}},
		bson.M{"$literal": value},
		field,
	}}
}

// VocabularyRepository reads dish names from MongoDB
type VocabularyRepository struct {
	collection *mongo.Collection
}

var _ repositories.VocabularyRepository = (*VocabularyRepository)(nil)

// NewVocabularyRepository creates a new MongoDB vocabulary repository
func NewVocabularyRepository(db *mongo.Database) *VocabularyRepository {
	return &VocabularyRepository{collection: db.Collection(dishesCollection)}
}

// DishNames implements repositories.VocabularyRepository. Dishes without a
// restaurant id are shared by every restaurant.
func (v *VocabularyRepository) DishNames(ctx context.Context, restaurantID string) ([]string, error) {
	filter := bson.M{
		"restaurant_id": bson.M{"$in": bson.A{restaurantID, "", nil}},
	}
	opts := options.Find().
		SetProjection(bson.M{"dish_name": 1}).
		SetSort(bson.M{"dish_name": 1})

	cursor, err := v.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load dish names: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		DishName string `bson:"dish_name"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode dish names: %w", err)
	}

	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc.DishName != "" {
			names = append(names, doc.DishName)
		}
	}
	return names, nil
}
