package entities

import (
	"errors"
	"time"
)

// RecordingStatus represents the processing state of a recording
type RecordingStatus string

const (
	RecordingStatusUnset      RecordingStatus = ""
	RecordingStatusProcessing RecordingStatus = "processing"
	RecordingStatusProcessed  RecordingStatus = "processed"
	RecordingStatusError      RecordingStatus = "error"
)

// Blocks reports whether a recording in this status must not be picked up by a new run.
func (s RecordingStatus) Blocks() bool {
	return s == RecordingStatusProcessing || s == RecordingStatusProcessed
}

// Valid reports whether s is one of the known statuses
func (s RecordingStatus) Valid() bool {
	switch s {
	case RecordingStatusUnset, RecordingStatusProcessing, RecordingStatusProcessed, RecordingStatusError:
		return true
	}
	return false
}

// Recording represents one table-visit audio recording
type Recording struct {
	ID            string          `json:"id" bson:"_id" db:"id"`
	RestaurantID  string          `json:"restaurant_id" bson:"restaurant_id" db:"restaurant_id"`
	TableID       string          `json:"table_id" bson:"table_id" db:"table_id"`
	EmployeeID    string          `json:"employee_id,omitempty" bson:"employee_id,omitempty" db:"employee_id"`
	AudioURL      string          `json:"audio_url" bson:"audio_url" db:"audio_url"`
	Status        RecordingStatus `json:"status" bson:"status" db:"status"`
	RawTranscript string          `json:"raw_transcript,omitempty" bson:"raw_transcript,omitempty" db:"raw_transcript"`
	Annotation    *Annotation     `json:"annotation,omitempty" bson:"annotation,omitempty" db:"-"`
	ErrorMessage  string          `json:"error_message,omitempty" bson:"error_message,omitempty" db:"error_message"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty" bson:"processed_at,omitempty" db:"processed_at"`
	CreatedAt     time.Time       `json:"created_at" bson:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// NewRecording creates a recording that has not been processed yet
func NewRecording(id, audioURL, restaurantID, tableID string) *Recording {
	now := time.Now()
	return &Recording{
		ID:           id,
		RestaurantID: restaurantID,
		TableID:      tableID,
		AudioURL:     audioURL,
		Status:       RecordingStatusUnset,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Summary returns the annotation summary, or an empty string when the recording is not annotated
func (r *Recording) Summary() string {
	if r.Annotation == nil {
		return ""
	}
	return r.Annotation.Summary
}

// Validate validates the recording data
func (r *Recording) Validate() error {
	if r.ID == "" {
		return errors.New("recording id is required")
	}
	if r.AudioURL == "" {
		return errors.New("audio url is required")
	}
	if !r.Status.Valid() {
		return errors.New("invalid recording status")
	}
	return nil
}
