package domain

import (
	"errors"
	"fmt"

	"github.com/lingtin/lingtin/server/domain/entities"
)

var (
	// ErrDuplicateRun is matched by every rejection caused by duplicate prevention
	ErrDuplicateRun = errors.New("duplicate run")

	// ErrAlreadyProcessing is returned when the recording is held by a run in this process
	ErrAlreadyProcessing = fmt.Errorf("recording is already being processed: %w", ErrDuplicateRun)

	// ErrCredentialsMissing is returned by upstream clients built without credentials
	ErrCredentialsMissing = errors.New("upstream credentials not configured")

	// ErrTranscodeFailed wraps failures of the external audio converter
	ErrTranscodeFailed = errors.New("audio transcode failed")

	// ErrTranscriptionTimeout is returned when the speech service produced nothing in time
	ErrTranscriptionTimeout = errors.New("transcription timed out")

	// ErrEmptyAudio is returned when there is no audio to transcribe
	ErrEmptyAudio = errors.New("no audio data received")

	// ErrRecordingNotFound is returned by repositories for unknown ids
	ErrRecordingNotFound = errors.New("recording not found")
)

// AlreadyInStateError is returned when the persisted status forbids a new run
type AlreadyInStateError struct {
	Status entities.RecordingStatus
}

func (e *AlreadyInStateError) Error() string {
	return fmt.Sprintf("recording already %s", e.Status)
}

// Is makes AlreadyInStateError match ErrDuplicateRun
func (e *AlreadyInStateError) Is(target error) bool {
	return target == ErrDuplicateRun
}

// ProtocolError is a non-zero response code from the speech service
type ProtocolError struct {
	Code    int
	Message string
	SID     string
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("speech service error %d (sid=%s)", e.Code, e.SID)
	}
	return fmt.Sprintf("speech service error %d: %s (sid=%s)", e.Code, e.Message, e.SID)
}

// IsFatal reports whether err must abort a pipeline run instead of degrading to a fallback
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTranscodeFailed) {
		return true
	}
	var protocolErr *ProtocolError
	return errors.As(err, &protocolErr)
}
