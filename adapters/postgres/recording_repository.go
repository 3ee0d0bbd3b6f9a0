package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lingtin/lingtin/server/domain"
	"github.com/lingtin/lingtin/server/domain/entities"
	"github.com/lingtin/lingtin/server/domain/repositories"
)

const schema = `
CREATE TABLE IF NOT EXISTS lingtin_visit_records (
	id TEXT PRIMARY KEY,
	restaurant_id TEXT NOT NULL DEFAULT '',
	employee_id TEXT,
	table_id TEXT NOT NULL DEFAULT '',
	audio_url TEXT NOT NULL DEFAULT '',
	raw_transcript TEXT,
	corrected_transcript TEXT,
	ai_summary TEXT,
	sentiment_score DOUBLE PRECISION,
	keywords TEXT[],
	manager_questions TEXT[],
	customer_answers TEXT[],
	status TEXT NOT NULL DEFAULT '',
	processed_at TIMESTAMPTZ,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_visit_records_status ON lingtin_visit_records (status, created_at);
`

const selectColumns = `id, restaurant_id, COALESCE(employee_id, ''), table_id, audio_url,
	COALESCE(raw_transcript, ''), corrected_transcript, ai_summary, sentiment_score,
	keywords, manager_questions, customer_answers, status, processed_at,
	COALESCE(error_message, ''), created_at, updated_at`

// Config holds the PostgreSQL connection settings
type Config struct {
	URL         string
	AutoMigrate bool
}

// NewConfigFromEnv creates a new Config from environment variables
func NewConfigFromEnv() Config {
	return Config{
		URL:         os.Getenv("POSTGRES_URL"),
		AutoMigrate: os.Getenv("POSTGRES_AUTO_MIGRATE") == "true",
	}
}

// RecordingRepository implements RecordingRepository and VocabularyRepository on PostgreSQL
type RecordingRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var (
	_ repositories.RecordingRepository  = (*RecordingRepository)(nil)
	_ repositories.VocabularyRepository = (*RecordingRepository)(nil)
)

// NewRecordingRepository connects to PostgreSQL and optionally creates the schema
func NewRecordingRepository(ctx context.Context, config Config, logger *zap.Logger) (*RecordingRepository, error) {
	if config.URL == "" {
		return nil, errors.New("postgres url is required")
	}

	pool, err := pgxpool.New(ctx, config.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	r := &RecordingRepository{pool: pool, logger: logger}
	if config.AutoMigrate {
		if _, err := pool.Exec(ctx, schema); err != nil {
			pool.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
		logger.Info("Postgres schema ensured")
	}

	logger.Info("Successfully connected to Postgres")
	return r, nil
}

// Close releases the connection pool
func (r *RecordingRepository) Close() {
	r.pool.Close()
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

	_, err := r.pool.Exec(ctx, `
		INSERT INTO lingtin_visit_records (id, restaurant_id, employee_id, table_id, audio_url, status, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)`,
		recording.ID, recording.RestaurantID, recording.EmployeeID, recording.TableID,
		recording.AudioURL, string(recording.Status), recording.CreatedAt, recording.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
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

	row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM lingtin_visit_records WHERE id = $1`, id)
	recording, err := scanRecording(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRecordingNotFound
		}
		return nil, fmt.Errorf("failed to get recording %s: %w", id, err)
	}
	return recording, nil
}

// GetStatus implements repositories.RecordingRepository
func (r *RecordingRepository) GetStatus(ctx context.Context, id string) (entities.RecordingStatus, error) {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM lingtin_visit_records WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entities.RecordingStatusUnset, nil
		}
		return entities.RecordingStatusUnset, fmt.Errorf("failed to get status of recording %s: %w", id, err)
	}
	return entities.RecordingStatus(status), nil
}

// MarkProcessing implements repositories.RecordingRepository
func (r *RecordingRepository) MarkProcessing(ctx context.Context, recording *entities.Recording) error {
	if recording == nil || recording.ID == "" {
		return errors.New("recording ID cannot be empty")
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO lingtin_visit_records (id, audio_url, restaurant_id, table_id, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			audio_url = COALESCE(NULLIF(lingtin_visit_records.audio_url, ''), EXCLUDED.audio_url),
			restaurant_id = COALESCE(NULLIF(lingtin_visit_records.restaurant_id, ''), EXCLUDED.restaurant_id),
			table_id = COALESCE(NULLIF(lingtin_visit_records.table_id, ''), EXCLUDED.table_id),
			status = EXCLUDED.status,
			error_message = NULL,
			updated_at = NOW()`,
		recording.ID, recording.AudioURL, recording.RestaurantID, recording.TableID,
		string(entities.RecordingStatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to mark recording %s processing: %w", recording.ID, err)
	}
	return nil
}

// SaveResult implements repositories.RecordingRepository
func (r *RecordingRepository) SaveResult(ctx context.Context, id string, result *entities.ProcessingResult) error {
	if result == nil {
		return errors.New("result cannot be nil")
	}

	a := result.Annotation
	_, err := r.pool.Exec(ctx, `
		INSERT INTO lingtin_visit_records (id, raw_transcript, corrected_transcript, ai_summary, sentiment_score,
			keywords, manager_questions, customer_answers, status, processed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			raw_transcript = EXCLUDED.raw_transcript,
			corrected_transcript = EXCLUDED.corrected_transcript,
			ai_summary = EXCLUDED.ai_summary,
			sentiment_score = EXCLUDED.sentiment_score,
			keywords = EXCLUDED.keywords,
			manager_questions = EXCLUDED.manager_questions,
			customer_answers = EXCLUDED.customer_answers,
			status = EXCLUDED.status,
			processed_at = EXCLUDED.processed_at,
			error_message = NULL,
			updated_at = EXCLUDED.updated_at`,
		id, result.Transcript, a.CorrectedTranscript, a.Summary, a.SentimentScore,
		nonNil(a.Keywords), nonNil(a.ManagerQuestions), nonNil(a.CustomerAnswers),
		string(entities.RecordingStatusProcessed))
	if err != nil {
		return fmt.Errorf("failed to save result of recording %s: %w", id, err)
	}
	return nil
}

// MarkFailed implements repositories.RecordingRepository
func (r *RecordingRepository) MarkFailed(ctx context.Context, id string, message string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO lingtin_visit_records (id, status, error_message, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			updated_at = NOW()`,
		id, string(entities.RecordingStatusError), message)
	if err != nil {
		return fmt.Errorf("failed to mark recording %s failed: %w", id, err)
	}
	return nil
}

// ListPending implements repositories.RecordingRepository
func (r *RecordingRepository) ListPending(ctx context.Context, limit int) ([]*entities.Recording, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `SELECT `+selectColumns+` FROM lingtin_visit_records
		WHERE status IN ('', 'error')
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending recordings: %w", err)
	}
	defer rows.Close()

	recordings := make([]*entities.Recording, 0)
	for rows.Next() {
		recording, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending recording: %w", err)
		}
		recordings = append(recordings, recording)
	}
	return recordings, rows.Err()
}

// ExpireStale implements repositories.RecordingRepository
func (r *RecordingRepository) ExpireStale(ctx context.Context, cutoff time.Time, message string) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE lingtin_visit_records
		SET status = 'error', error_message = $1, updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $2`,
		message, cutoff)
	if err != nil {
		r.logger.Error("Failed to expire stale recordings", zap.Error(err))
		return 0, err
	}

	if tag.RowsAffected() > 0 {
		r.logger.Info("Expired stale recordings", zap.Int64("count", tag.RowsAffected()))
	}
	return int(tag.RowsAffected()), nil
}

// DishNames implements repositories.VocabularyRepository. The dish name view is
// shared by every restaurant.
func (r *RecordingRepository) DishNames(ctx context.Context, restaurantID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT dish_name FROM lingtin_dishname_view ORDER BY dish_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to load dish names: %w", err)
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan dish names: %w", err)
	}
	return names, nil
}

func scanRecording(row pgx.Row) (*entities.Recording, error) {
	var (
		recording           entities.Recording
		status              string
		correctedTranscript *string
		summary             *string
		sentiment           *float64
		keywords            []string
		managerQuestions    []string
		customerAnswers     []string
	)

	err := row.Scan(
		&recording.ID, &recording.RestaurantID, &recording.EmployeeID, &recording.TableID, &recording.AudioURL,
		&recording.RawTranscript, &correctedTranscript, &summary, &sentiment,
		&keywords, &managerQuestions, &customerAnswers, &status, &recording.ProcessedAt,
		&recording.ErrorMessage, &recording.CreatedAt, &recording.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	recording.Status = entities.RecordingStatus(status)
	if summary != nil || correctedTranscript != nil {
		annotation := entities.Annotation{
			SentimentScore:   entities.DefaultSentimentScore,
			Keywords:         keywords,
			ManagerQuestions: managerQuestions,
			CustomerAnswers:  customerAnswers,
		}
		if correctedTranscript != nil {
			annotation.CorrectedTranscript = *correctedTranscript
		}
		if summary != nil {
			annotation.Summary = *summary
		}
		if sentiment != nil {
			annotation.SentimentScore = *sentiment
		}
		annotation.Normalize(recording.RawTranscript)
		recording.Annotation = &annotation
	}
	return &recording, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
