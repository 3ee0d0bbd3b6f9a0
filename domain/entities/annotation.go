package entities

const (
	// DefaultSentimentScore is the neutral score used when the model gives none
	DefaultSentimentScore = 0.5
	// DefaultSummary is stored when the model gives no summary
	DefaultSummary = "无摘要"
)

// Annotation holds the structured feedback extracted from a transcript
type Annotation struct {
	CorrectedTranscript string   `json:"correctedTranscript" bson:"corrected_transcript"`
	Summary             string   `json:"aiSummary" bson:"ai_summary"`
	SentimentScore      float64  `json:"sentimentScore" bson:"sentiment_score"`
	Keywords            []string `json:"keywords" bson:"keywords"`
	ManagerQuestions    []string `json:"managerQuestions" bson:"manager_questions"`
	CustomerAnswers     []string `json:"customerAnswers" bson:"customer_answers"`
}

// Normalize fills every missing field with its fallback so no field is left undefined.
// The transcript is echoed as the corrected text when the model returned none.
func (a *Annotation) Normalize(transcript string) {
	if a.CorrectedTranscript == "" {
		a.CorrectedTranscript = transcript
	}
	if a.Summary == "" {
		a.Summary = DefaultSummary
	}
	if a.SentimentScore < 0 || a.SentimentScore > 1 {
		a.SentimentScore = DefaultSentimentScore
	}
	if a.Keywords == nil {
		a.Keywords = []string{}
	}
	if a.ManagerQuestions == nil {
		a.ManagerQuestions = []string{}
	}
	if a.CustomerAnswers == nil {
		a.CustomerAnswers = []string{}
	}
}

// ProcessingResult is the outcome of one pipeline run
type ProcessingResult struct {
	RecordingID string `json:"recordingId"`
	Transcript  string `json:"transcript"`
	Annotation
}
