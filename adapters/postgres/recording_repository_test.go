package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/lingtin/lingtin/server/domain"
	"github.com/lingtin/lingtin/server/domain/entities"
)

// TestRecordingRepository_Integration requires a running PostgreSQL instance
// (skipped if POSTGRES_URL is not set)
func TestRecordingRepository_Integration(t *testing.T) {
	url := os.Getenv("POSTGRES_URL")
	if url == "" {
		t.Skip("Skipping Postgres integration test - POSTGRES_URL not set")
	}

	ctx := context.Background()
	repo, err := NewRecordingRepository(ctx, Config{URL: url, AutoMigrate: true}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer repo.Close()

	suffix := time.Now().Format("20060102150405.000000")
	id := "pg-rec-" + suffix
	defer repo.pool.Exec(ctx, `DELETE FROM lingtin_visit_records WHERE id LIKE $1`, "pg-%-"+suffix)

	t.Run("CreateAndProcess", func(t *testing.T) {
		recording := entities.NewRecording(id, "https://example.com/a.wav", "r1", "B2")
		if err := repo.Create(ctx, recording); err != nil {
			t.Fatalf("Failed to create recording: %v", err)
		}

		if err := repo.MarkProcessing(ctx, recording); err != nil {
			t.Fatalf("Failed to mark processing: %v", err)
		}
		status, err := repo.GetStatus(ctx, id)
		if err != nil || status != entities.RecordingStatusProcessing {
			t.Errorf("Expected processing, got %q (%v)", status, err)
		}

		err = repo.SaveResult(ctx, id, &entities.ProcessingResult{
			RecordingID: id,
			Transcript:  "蒜蓉粉丝虾很入味",
			Annotation: entities.Annotation{
				CorrectedTranscript: "蒜蓉粉丝虾很入味",
				Summary:             "粉丝虾入味",
				SentimentScore:      0.9,
				Keywords:            []string{"蒜蓉粉丝虾", "入味"},
			},
		})
		if err != nil {
			t.Fatalf("Failed to save result: %v", err)
		}

		stored, err := repo.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("Failed to get recording: %v", err)
		}
		if stored.Status != entities.RecordingStatusProcessed {
			t.Errorf("Expected processed, got %s", stored.Status)
		}
		if stored.Annotation == nil || stored.Annotation.SentimentScore != 0.9 || len(stored.Annotation.Keywords) != 2 {
			t.Errorf("Unexpected annotation %+v", stored.Annotation)
		}
		if stored.ProcessedAt == nil {
			t.Error("Expected processed_at to be set")
		}
	})

	t.Run("StaleAndPending", func(t *testing.T) {
		stuck := "pg-stuck-" + suffix
		audioURL := "https://example.com/stuck.webm"
		if err := repo.MarkProcessing(ctx, entities.NewRecording(stuck, audioURL, "r1", "C3")); err != nil {
			t.Fatalf("Failed to upsert recording: %v", err)
		}

		if _, err := repo.ExpireStale(ctx, time.Now().Add(time.Minute), "processing interrupted"); err != nil {
			t.Fatalf("Failed to expire stale: %v", err)
		}

		stored, err := repo.GetByID(ctx, stuck)
		if err != nil {
			t.Fatalf("Failed to get recording: %v", err)
		}
		if stored.Status != entities.RecordingStatusError || stored.ErrorMessage != "processing interrupted" {
			t.Errorf("Unexpected recording %+v", stored)
		}
		if stored.AudioURL != audioURL || stored.TableID != "C3" {
			t.Errorf("Expected request fields on upserted recording, got %+v", stored)
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		if _, err := repo.GetByID(ctx, "pg-missing-"+suffix); !errors.Is(err, domain.ErrRecordingNotFound) {
			t.Errorf("Expected ErrRecordingNotFound, got %v", err)
		}
		status, err := repo.GetStatus(ctx, "pg-missing-"+suffix)
		if err != nil || status != entities.RecordingStatusUnset {
			t.Errorf("Expected unset status, got %q (%v)", status, err)
		}
	})
}
