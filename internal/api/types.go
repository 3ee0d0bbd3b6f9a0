package api

import (
	"time"

	"github.com/lingtin/lingtin/server/domain/entities"
)

// ProcessResponse represents the response payload of a finished pipeline run
type ProcessResponse struct {
	Success             bool     `json:"success"`
	RecordingID         string   `json:"recording_id"`
	Transcript          string   `json:"transcript"`
	CorrectedTranscript string   `json:"correctedTranscript"`
	AISummary           string   `json:"aiSummary"`
	SentimentScore      float64  `json:"sentimentScore"`
	Keywords            []string `json:"keywords"`
	ManagerQuestions    []string `json:"managerQuestions"`
	CustomerAnswers     []string `json:"customerAnswers"`
}

// StatusResponse represents the processing status of one recording
type StatusResponse struct {
	VisitID      string     `json:"visit_id"`
	Status       string     `json:"status"`
	Processing   bool       `json:"processing"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	AISummary    string     `json:"ai_summary,omitempty"`
}

// PendingRecording is one entry of the pending list
type PendingRecording struct {
	ID           string    `json:"id"`
	AudioURL     string    `json:"audio_url"`
	TableID      string    `json:"table_id"`
	RestaurantID string    `json:"restaurant_id"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// PendingResponse lists recordings that can be (re)processed
type PendingResponse struct {
	Recordings []PendingRecording `json:"recordings"`
	Count      int                `json:"count"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// statusPending is reported for recordings that were never picked up
const statusPending = "pending"

func displayStatus(status entities.RecordingStatus) string {
	if status == entities.RecordingStatusUnset {
		return statusPending
	}
	return string(status)
}

func newProcessResponse(result *entities.ProcessingResult) ProcessResponse {
	return ProcessResponse{
		Success:             true,
		RecordingID:         result.RecordingID,
		Transcript:          result.Transcript,
		CorrectedTranscript: result.CorrectedTranscript,
		AISummary:           result.Summary,
		SentimentScore:      result.SentimentScore,
		Keywords:            result.Keywords,
		ManagerQuestions:    result.ManagerQuestions,
		CustomerAnswers:     result.CustomerAnswers,
	}
}

func newPendingRecording(r *entities.Recording) PendingRecording {
	return PendingRecording{
		ID:           r.ID,
		AudioURL:     r.AudioURL,
		TableID:      r.TableID,
		RestaurantID: r.RestaurantID,
		Status:       displayStatus(r.Status),
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
	}
}
