package repositories

import "context"

// SpeechToText abstracts speech recognition services
type SpeechToText interface {
	// TranscribePCM converts 16 kHz mono 16-bit little-endian PCM to text
	TranscribePCM(ctx context.Context, pcm []byte) (Transcript, error)
}

// TerminationReason describes how a transcription session ended
type TerminationReason string

const (
	TerminationComplete       TerminationReason = "complete"
	TerminationTimeoutPartial TerminationReason = "timeout-partial"
	TerminationErrorPartial   TerminationReason = "error-partial"
	TerminationClosed         TerminationReason = "closed"
	TerminationMock           TerminationReason = "mock"
)

// Transcript is the text produced by a transcription session
type Transcript struct {
	Text   string            `json:"text"`
	Reason TerminationReason `json:"reason"`
	Frames int               `json:"frames"`
}

// Partial reports whether the session ended without a completion signal
func (t Transcript) Partial() bool {
	switch t.Reason {
	case TerminationTimeoutPartial, TerminationErrorPartial, TerminationClosed:
		return true
	}
	return false
}

// AudioConfig describes the PCM handed to a SpeechToText implementation
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// DefaultAudioConfig is the format every recording is normalized to
var DefaultAudioConfig = AudioConfig{
	SampleRate: 16000,
	Encoding:   "LINEAR16",
	Language:   "zh-CN",
}
